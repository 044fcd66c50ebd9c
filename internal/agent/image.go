package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"
)

const defaultImageMIME = "image/png"

// ImageAdapter generates images.
type ImageAdapter struct {
	capability
	gen         ContentGenerator
	aspectRatio string
}

// NewImageAdapter creates an image adapter.
func NewImageAdapter(gen ContentGenerator, cfg Config, m *metrics.Metrics, log ConversationLogger) *ImageAdapter {
	return &ImageAdapter{
		capability:  newCapability(domain.CapabilityImage, cfg.ImageModel, cfg.RequestTimeout, m, log),
		gen:         gen,
		aspectRatio: cfg.ImageAspectRatio,
	}
}

// Generate returns the first inline image of the response. When the model
// declines with text only, the text is returned as TextFallback and the
// call still counts as a failure for Status.
func (a *ImageAdapter) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	prompt := req.FinalPrompt
	if prompt == "" {
		prompt = req.Prompt
	}

	var result *ImageResult
	err := a.do(ctx, req.UserID, func(ctx context.Context) error {
		a.logEvent(req.UserID, req.SessionID, "outbound", "image_prompt", req.Prompt, map[string]any{
			"model":        a.model,
			"aspect_ratio": a.aspectRatio,
		})

		config := &genai.GenerateContentConfig{}
		if a.aspectRatio != "" {
			config.ImageConfig = &genai.ImageConfig{AspectRatio: a.aspectRatio}
		}

		resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(prompt), config)
		if err != nil {
			return err
		}

		result = extractImage(resp, req.Prompt)
		if result.HasImage() {
			a.logEvent(req.UserID, req.SessionID, "inbound", "image_generated", req.Prompt, map[string]any{
				"mime_type": result.MIMEType,
				"size":      humanize.Bytes(uint64(len(result.Data))),
			})
			return nil
		}
		if result.TextFallback != "" {
			a.logEvent(req.UserID, req.SessionID, "inbound", "image_text_fallback", result.TextFallback, nil)
			return &textFallbackError{text: result.TextFallback}
		}
		return ErrNoImage
	}, imageFailureMessage)

	var fallback *textFallbackError
	if errors.As(err, &fallback) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// textFallbackError lets a text-only answer mark the call as failed in Status
// while still handing the text back to the caller.
type textFallbackError struct {
	text string
}

func (e *textFallbackError) Error() string {
	return "model answered with text only"
}

func imageFailureMessage(err error) string {
	var fallback *textFallbackError
	switch {
	case errors.As(err, &fallback):
		return fallback.text
	case errors.Is(err, ErrNoImage):
		return ImageBlockedMessage
	default:
		return ImageFailureMessage
	}
}

func extractImage(resp *genai.GenerateContentResponse, prompt string) *ImageResult {
	result := &ImageResult{Prompt: prompt}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}

	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			result.Data = part.InlineData.Data
			result.MIMEType = detectImageMIME(part.InlineData.MIMEType, part.InlineData.Data)
			return result
		}
		if part.Text != "" && !part.Thought {
			text = append(text, part.Text)
		}
	}
	result.TextFallback = strings.TrimSpace(strings.Join(text, "\n"))
	return result
}

// detectImageMIME trusts the declared type, then sniffs, then falls back to PNG.
func detectImageMIME(declared string, data []byte) string {
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	return defaultImageMIME
}
