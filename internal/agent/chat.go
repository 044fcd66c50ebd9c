package agent

import (
	"context"
	"strings"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"google.golang.org/genai"
)

// ChatAdapter generates text replies.
type ChatAdapter struct {
	capability
	gen ContentGenerator
}

// NewChatAdapter creates a chat adapter.
func NewChatAdapter(gen ContentGenerator, cfg Config, m *metrics.Metrics, log ConversationLogger) *ChatAdapter {
	return &ChatAdapter{
		capability: newCapability(domain.CapabilityChat, cfg.ChatModel, cfg.RequestTimeout, m, log),
		gen:        gen,
	}
}

// Complete sends the prompt with the system instruction and returns the reply.
// An empty reply is replaced with EmptyReplyFallback.
func (a *ChatAdapter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var reply string
	err := a.do(ctx, req.UserID, func(ctx context.Context) error {
		a.logEvent(req.UserID, req.SessionID, "outbound", "chat_user_message", req.Prompt, map[string]any{
			"model":              a.model,
			"instruction_length": len(req.SystemInstruction),
		})

		config := &genai.GenerateContentConfig{}
		if req.SystemInstruction != "" {
			config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
		}

		resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(req.Prompt), config)
		if err != nil {
			return err
		}
		reply = strings.TrimSpace(resp.Text())
		if reply == "" {
			reply = EmptyReplyFallback
		}

		a.logEvent(req.UserID, req.SessionID, "inbound", "chat_assistant_message", reply, map[string]any{
			"model": a.model,
		})
		return nil
	}, func(error) string { return ChatFailureMessage })
	if err != nil {
		return "", err
	}
	return reply, nil
}
