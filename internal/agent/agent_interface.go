package agent

import (
	"context"

	"google.golang.org/genai"
)

// ContentGenerator is the slice of the Gemini SDK the adapters need.
// It is implemented by *genai.Models.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Chatter generates chat replies.
type Chatter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Status(userID string) Status
}

// Imager generates images.
type Imager interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
	Status(userID string) Status
}

var (
	_ ContentGenerator = (*genai.Models)(nil)
	_ Chatter          = (*ChatAdapter)(nil)
	_ Imager           = (*ImageAdapter)(nil)
)
