// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	GRPCHealthAddr  string // empty disables the gRPC health server
	LogLevel        slog.Level
	LogFile         string
	AI              AIConfig
	Funnel          FunnelConfig
	RateLimit       RateLimitConfig
	Session         SessionConfig
	Live            LiveConfig
	ConversationLog ConversationLogConfig
}

// AIConfig selects models and limits for the generative AI capabilities.
type AIConfig struct {
	APIKey           string
	ChatModel        string
	ImageModel       string
	SpeechModel      string
	SpeechVoice      string
	ImageAspectRatio string
	RequestTimeout   time.Duration
}

// FunnelConfig controls the analytics webhook.
type FunnelConfig struct {
	WebhookURL string
	Source     string
	QueueSize  int
	Timeout    time.Duration
}

// RateLimitConfig controls per-user request throttling on capability routes.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SessionConfig controls reader session retention.
type SessionConfig struct {
	Retention       time.Duration
	CleanupSchedule string // cron expression
}

// LiveConfig controls the push channels to open reader tabs.
type LiveConfig struct {
	ReplaySize        int           // events kept per user for Last-Event-ID replay
	KeepaliveInterval time.Duration // SSE ping and websocket heartbeat interval
	RetryDelay        time.Duration // SSE client reconnect hint
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiKey := getEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("API_KEY", "")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/reader.db"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LogFile:        getEnv("LOG_FILE", ""),
		AI: AIConfig{
			APIKey:           apiKey,
			ChatModel:        getEnv("CHAT_MODEL", "gemini-2.5-flash"),
			ImageModel:       getEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
			SpeechModel:      getEnv("TTS_MODEL", "gemini-2.5-flash-preview-tts"),
			SpeechVoice:      getEnv("TTS_VOICE", "Kore"),
			ImageAspectRatio: getEnv("IMAGE_ASPECT_RATIO", "1:1"),
			RequestTimeout:   getEnvDuration("AI_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Funnel: FunnelConfig{
			WebhookURL: getEnv("FUNNEL_WEBHOOK_URL", ""),
			Source:     getEnv("FUNNEL_SOURCE", "ngx_ultimate_book_v2"),
			QueueSize:  getEnvInt("FUNNEL_QUEUE_SIZE", 256),
			Timeout:    getEnvDuration("FUNNEL_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 1),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		},
		Session: SessionConfig{
			Retention:       getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
			CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "*/15 * * * *"),
		},
		Live: LiveConfig{
			ReplaySize:        getEnvInt("LIVE_REPLAY_SIZE", 100),
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AI.ChatModel == "" || c.AI.ImageModel == "" || c.AI.SpeechModel == "" {
		return fmt.Errorf("model names cannot be empty")
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be > 0")
	}
	if c.Funnel.QueueSize <= 0 {
		return fmt.Errorf("FUNNEL_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.Session.Retention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if !gronx.IsValid(c.Session.CleanupSchedule) {
		return fmt.Errorf("CLEANUP_SCHEDULE is not a valid cron expression: %q", c.Session.CleanupSchedule)
	}
	if c.Live.ReplaySize <= 0 {
		return fmt.Errorf("LIVE_REPLAY_SIZE must be > 0")
	}
	if c.Live.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Offline reports whether the AI capabilities are unavailable because no API
// key was configured. The reader still serves content in that mode.
func (c *Config) Offline() bool {
	return strings.TrimSpace(c.AI.APIKey) == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
