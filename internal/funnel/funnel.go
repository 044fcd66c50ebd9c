// Package funnel delivers analytics events to the marketing webhook.
// Delivery is fire-and-forget: failures are logged and counted, never
// surfaced to the reader and never retried.
package funnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/ngx-reader/internal/metrics"
)

// Tracked actions.
const (
	ActionOnboardingCompleted = "onboarding_completed"
	ActionOnboardingSkipped   = "onboarding_skipped"
	ActionEmailGateShown      = "email_gate_shown"
	ActionEmailCaptured       = "email_captured"
	ActionModeSwitch          = "mode_switch"
	ActionInsightSaved        = "insight_saved"
	ActionMemoryCleared       = "memory_cleared"
)

// Event is one webhook payload.
type Event struct {
	Action    string `json:"action"`
	Label     string `json:"label,omitempty"`
	Value     any    `json:"value,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Tracker accepts analytics events.
type Tracker interface {
	Track(e Event)
}

// Config configures the webhook client.
type Config struct {
	WebhookURL string
	Source     string
	QueueSize  int
	Timeout    time.Duration
}

// Client posts events from a background worker.
type Client struct {
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a client and starts its worker. With an empty webhook URL
// events are dropped after logging.
func New(cfg Config, httpClient *http.Client, m *metrics.Metrics) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		metrics: m,
		logger:  slog.Default().With("component", "funnel"),
		queue:   make(chan Event, cfg.QueueSize),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool {
	return c.cfg.WebhookURL != ""
}

// Track enqueues e without blocking. Timestamp and source are filled in.
func (c *Client) Track(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	e.Source = c.cfg.Source

	if !c.Enabled() {
		c.logger.Debug("Funnel event (webhook disabled)", "action", e.Action, "user_id", e.UserID)
		c.metrics.RecordFunnel(e.Action, "disabled")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.queue <- e:
	default:
		c.logger.Warn("Funnel queue full, dropping event", "action", e.Action, "user_id", e.UserID)
		c.metrics.RecordFunnel(e.Action, "dropped")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(c.cfg.Timeout + time.Second):
		return fmt.Errorf("funnel shutdown timed out with %d events pending", len(c.queue))
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	for e := range c.queue {
		if err := c.deliver(e); err != nil {
			c.logger.Warn("Funnel delivery failed", "action", e.Action, "user_id", e.UserID, "error", err)
			c.metrics.RecordFunnel(e.Action, "failed")
			continue
		}
		c.logger.Debug("Funnel event delivered", "action", e.Action, "user_id", e.UserID)
		c.metrics.RecordFunnel(e.Action, "ok")
	}
}

func (c *Client) deliver(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
