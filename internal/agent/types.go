// Package agent implements the AI capability adapters used by the reader:
// chat completion, image generation and speech synthesis.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/ngx-reader/internal/domain"
)

// Reader-facing failure descriptions.
const (
	ChatFailureMessage   = "Error de conexión con la red neural. Verifica tu conexión o API Key."
	ImageFailureMessage  = "Error al generar la visualización."
	ImageBlockedMessage  = "No pude generar la imagen debido a restricciones de seguridad."
	SpeechFailureMessage = "Error al iniciar el sistema de audio."

	// EmptyReplyFallback replaces an empty chat completion.
	EmptyReplyFallback = "Lo siento, no pude procesar eso."
)

var (
	// ErrBusy is returned when a capability is already serving the same user.
	ErrBusy = errors.New("capability busy")
	// ErrNoImage is returned when the model answered with neither image nor text.
	ErrNoImage = errors.New("no image in response")
	// ErrNoAudio is returned when the speech model produced no audio payload.
	ErrNoAudio = errors.New("no audio data received")
)

// Failure is a capability error carrying the description shown to the reader.
type Failure struct {
	Capability domain.Capability
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Capability, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Config holds adapter configuration.
type Config struct {
	ChatModel        string
	ImageModel       string
	SpeechModel      string
	SpeechVoice      string
	ImageAspectRatio string
	RequestTimeout   time.Duration
}

// DefaultConfig returns default adapter configuration.
func DefaultConfig() Config {
	return Config{
		ChatModel:        "gemini-2.5-flash",
		ImageModel:       "gemini-2.5-flash-image",
		SpeechModel:      "gemini-2.5-flash-preview-tts",
		SpeechVoice:      "Kore",
		ImageAspectRatio: "1:1",
		RequestTimeout:   2 * time.Minute,
	}
}

// ChatRequest is a single chat completion.
type ChatRequest struct {
	UserID            string
	SessionID         string
	SystemInstruction string
	Prompt            string
}

// ImageRequest is a single image generation.
type ImageRequest struct {
	UserID    string
	SessionID string
	// Prompt is the reader's subject; FinalPrompt is what the model receives.
	Prompt      string
	FinalPrompt string
}

// ImageResult holds either inline image bytes or a text fallback.
type ImageResult struct {
	Data         []byte
	MIMEType     string
	Prompt       string
	TextFallback string
}

// HasImage reports whether the result carries image bytes.
func (r *ImageResult) HasImage() bool {
	return r != nil && len(r.Data) > 0
}

// SpeechRequest is a single speech synthesis.
type SpeechRequest struct {
	UserID    string
	SessionID string
	Text      string
}

// SpeechResult holds raw 16-bit little-endian PCM.
type SpeechResult struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Status is the per-user state of one capability.
type Status struct {
	Busy      bool   `json:"busy"`
	LastError string `json:"last_error,omitempty"`
}
