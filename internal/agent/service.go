package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"google.golang.org/genai"
)

// Service bundles the chat, image and speech adapters over one generator.
type Service struct {
	Chat   *ChatAdapter
	Image  *ImageAdapter
	Speech *SpeechAdapter
	log    ConversationLogger
}

// NewService creates the adapters over gen.
func NewService(gen ContentGenerator, cfg Config, m *metrics.Metrics, log ConversationLogger) *Service {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &Service{
		Chat:   NewChatAdapter(gen, cfg, m, log),
		Image:  NewImageAdapter(gen, cfg, m, log),
		Speech: NewSpeechAdapter(gen, cfg, m, log),
		log:    log,
	}
}

// NewGeminiService creates a Service backed by the Gemini API.
func NewGeminiService(ctx context.Context, apiKey string, cfg Config, m *metrics.Metrics, log ConversationLogger) (*Service, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	slog.Info("Gemini client ready",
		"chat_model", cfg.ChatModel,
		"image_model", cfg.ImageModel,
		"speech_model", cfg.SpeechModel,
		"voice", cfg.SpeechVoice,
	)
	return NewService(client.Models, cfg, m, log), nil
}

// Statuses returns the busy flag and last error of every capability for userID.
func (s *Service) Statuses(userID string) map[domain.Capability]Status {
	return map[domain.Capability]Status{
		domain.CapabilityChat:   s.Chat.Status(userID),
		domain.CapabilityImage:  s.Image.Status(userID),
		domain.CapabilitySpeech: s.Speech.Status(userID),
	}
}

// Forget releases everything held for userID: its playing source and the
// per-capability state.
func (s *Service) Forget(userID string) {
	s.Speech.Stop(userID)
	s.Chat.Forget(userID)
	s.Image.Forget(userID)
	s.Speech.Forget(userID)
}

// Close tears down the audio output and flushes the conversation log.
func (s *Service) Close() error {
	if err := s.Speech.Close(); err != nil {
		slog.Warn("failed to close audio output", "error", err)
	}
	if err := s.log.Close(); err != nil {
		return fmt.Errorf("close conversation logger: %w", err)
	}
	return nil
}
