package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/ngx-reader/internal/agent"
	"github.com/ashureev/ngx-reader/internal/api"
	"github.com/ashureev/ngx-reader/internal/cleanup"
	"github.com/ashureev/ngx-reader/internal/config"
	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/funnel"
	"github.com/ashureev/ngx-reader/internal/grpchealth"
	"github.com/ashureev/ngx-reader/internal/live"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/ashureev/ngx-reader/internal/middleware"
	"github.com/ashureev/ngx-reader/internal/orchestrator"
	"github.com/ashureev/ngx-reader/internal/persona"
	"github.com/ashureev/ngx-reader/internal/store"
	"github.com/ashureev/ngx-reader/web"
)

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(parent context.Context) error {
	cfg, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", version)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "db_path", cfg.DBPath)

	books, err := content.Load()
	if err != nil {
		return fmt.Errorf("load book content: %w", err)
	}
	personas, err := persona.Load()
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	m := metrics.New("ngx_reader")

	tracker := funnel.New(funnel.Config{
		WebhookURL: cfg.Funnel.WebhookURL,
		Source:     cfg.Funnel.Source,
		QueueSize:  cfg.Funnel.QueueSize,
		Timeout:    cfg.Funnel.Timeout,
	}, nil, m)
	defer func() {
		if closeErr := tracker.Close(); closeErr != nil {
			slog.Warn("Failed to flush funnel events", "error", closeErr)
		}
	}()
	if !tracker.Enabled() {
		slog.Info("Funnel webhook disabled (FUNNEL_WEBHOOK_URL not set)")
	}

	hub := live.NewHub(cfg.Live.ReplaySize, m)

	deps := orchestrator.Deps{
		Repo:     repo,
		Content:  books,
		Personas: personas,
		Funnel:   tracker,
		Events:   hub,
	}
	var (
		service *agent.Service
		sources api.SourceFinder
	)
	if cfg.Offline() {
		slog.Info("AI features disabled (GEMINI_API_KEY not set)")
	} else {
		convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
			Enabled:   cfg.ConversationLog.Enabled,
			Dir:       cfg.ConversationLog.Dir,
			QueueSize: cfg.ConversationLog.QueueSize,
		}, slog.Default())
		if err != nil {
			return fmt.Errorf("initialize conversation logger: %w", err)
		}

		service, err = agent.NewGeminiService(ctx, cfg.AI.APIKey, agent.Config{
			ChatModel:        cfg.AI.ChatModel,
			ImageModel:       cfg.AI.ImageModel,
			SpeechModel:      cfg.AI.SpeechModel,
			SpeechVoice:      cfg.AI.SpeechVoice,
			ImageAspectRatio: cfg.AI.ImageAspectRatio,
			RequestTimeout:   cfg.AI.RequestTimeout,
		}, m, convLog)
		if err != nil {
			_ = convLog.Close()
			return fmt.Errorf("initialize ai service: %w", err)
		}
		defer func() {
			if closeErr := service.Close(); closeErr != nil {
				slog.Warn("Failed to close ai service", "error", closeErr)
			}
		}()
		deps.Chat = service.Chat
		deps.Image = service.Image
		deps.Speech = service.Speech
		sources = service.Speech.Output()
	}
	ctrl := orchestrator.New(deps)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, m)
	defer limiter.Stop()

	var origins []string
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	router := api.NewRouter(api.RouterConfig{
		Repo:           repo,
		Controller:     ctrl,
		Content:        books,
		Personas:       personas,
		Metrics:        m,
		Limiter:        limiter,
		Sources:        sources,
		Stream:         live.NewStreamHandler(hub, cfg.Live.KeepaliveInterval, cfg.Live.RetryDelay),
		Socket:         live.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment(), cfg.Live.KeepaliveInterval),
		SPA:            web.SPAHandler(),
		AllowedOrigins: origins,
		IsDev:          cfg.IsDevelopment(),
		Version:        version,
	})

	// Expire idle readers together with their audio and live state.
	callbacks := []cleanup.Callback{hub.Forget}
	if service != nil {
		callbacks = append(callbacks, service.Forget)
	}
	worker, err := cleanup.NewWorker(repo, cfg.Session.CleanupSchedule, cfg.Session.Retention, callbacks...)
	if err != nil {
		return err
	}
	worker.Start(ctx)

	if cfg.GRPCHealthAddr != "" {
		if err := startGRPCHealth(ctx, cfg, repo); err != nil {
			return err
		}
	}

	// Note: live streams require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func startGRPCHealth(ctx context.Context, cfg *config.Config, repo store.Repository) error {
	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}
	hs := grpchealth.New(repo, cfg.Live.KeepaliveInterval, slog.Default())
	go func() {
		if err := hs.Serve(ctx, lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return nil
}
