// Package metrics exposes Prometheus instrumentation for the reader service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// AI capability metrics
	CapabilityTotal    *prometheus.CounterVec
	CapabilityDuration *prometheus.HistogramVec
	CapabilityBusy     *prometheus.CounterVec

	// Audio metrics
	AudioSourcesActive prometheus.Gauge
	AudioBytesTotal    prometheus.Counter

	// Funnel metrics
	FunnelEventsTotal *prometheus.CounterVec

	// Live connection metrics
	LiveSubscribers prometheus.Gauge

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ngx_reader"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "route"},
		),
		CapabilityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_requests_total",
				Help:      "Total number of AI capability calls",
			},
			[]string{"capability", "model", "outcome"},
		),
		CapabilityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_duration_seconds",
				Help:      "AI capability call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"capability", "model"},
		),
		CapabilityBusy: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_busy_rejections_total",
				Help:      "Submissions rejected because the capability was already busy",
			},
			[]string{"capability"},
		),
		AudioSourcesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "audio_sources_active",
				Help:      "Number of audio sources currently held",
			},
		),
		AudioBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Total PCM bytes synthesized",
			},
		),
		FunnelEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "funnel_events_total",
				Help:      "Analytics webhook deliveries by outcome",
			},
			[]string{"action", "status"},
		),
		LiveSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_subscribers",
				Help:      "Number of connected live event subscribers",
			},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.CapabilityTotal,
		m.CapabilityDuration,
		m.CapabilityBusy,
		m.AudioSourcesActive,
		m.AudioBytesTotal,
		m.FunnelEventsTotal,
		m.LiveSubscribers,
		m.RateLimitHits,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCapability records a completed capability call.
func (m *Metrics) RecordCapability(capability, model, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CapabilityTotal.WithLabelValues(capability, model, outcome).Inc()
	m.CapabilityDuration.WithLabelValues(capability, model).Observe(duration.Seconds())
}

// RecordBusy records a submission rejected by a busy capability.
func (m *Metrics) RecordBusy(capability string) {
	if m == nil {
		return
	}
	m.CapabilityBusy.WithLabelValues(capability).Inc()
}

// AudioSourceAcquired increments the active audio source gauge.
func (m *Metrics) AudioSourceAcquired(pcmBytes int) {
	if m == nil {
		return
	}
	m.AudioSourcesActive.Inc()
	m.AudioBytesTotal.Add(float64(pcmBytes))
}

// AudioSourceReleased decrements the active audio source gauge.
func (m *Metrics) AudioSourceReleased() {
	if m == nil {
		return
	}
	m.AudioSourcesActive.Dec()
}

// RecordFunnel records an analytics webhook delivery.
func (m *Metrics) RecordFunnel(action, status string) {
	if m == nil {
		return
	}
	m.FunnelEventsTotal.WithLabelValues(action, status).Inc()
}

// SubscriberConnected tracks a live subscriber joining.
func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Inc()
}

// SubscriberDisconnected tracks a live subscriber leaving.
func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Dec()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(scope).Inc()
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
