package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// MessageType selects which payload fields of a ChatMessage are populated.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageCard  MessageType = "card"
	MessageImage MessageType = "image"
	MessageError MessageType = "error"
)

// Capability names one of the AI capabilities a request was sent to.
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityImage  Capability = "image"
	CapabilitySpeech Capability = "speech"
)

// RetryRequest is carried by error messages so the failed request can be
// issued again with the same content.
type RetryRequest struct {
	Capability Capability `json:"capability"`
	Persona    string     `json:"persona,omitempty"`
	Input      string     `json:"input"`
	SectionID  string     `json:"section_id,omitempty"`
}

// ChatMessage is one entry of the conversation history.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Type      MessageType   `json:"type"`
	Content   string        `json:"content,omitempty"`
	Title     string        `json:"title,omitempty"`
	Body      string        `json:"body,omitempty"`
	Action    string        `json:"action,omitempty"`
	ImageData []byte        `json:"image_data,omitempty"`
	MIMEType  string        `json:"mime_type,omitempty"`
	Retry     *RetryRequest `json:"retry,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewTextMessage builds a plain text message.
func NewTextMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Type:      MessageText,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewCardMessage builds an agent knowledge card message.
func NewCardMessage(title, body, action string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Type:      MessageCard,
		Title:     title,
		Body:      body,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
}

// NewImageMessage builds an agent image message. ImageData is serialized as
// base64 by encoding/json.
func NewImageMessage(caption string, data []byte, mimeType string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Type:      MessageImage,
		Content:   caption,
		ImageData: data,
		MIMEType:  mimeType,
		CreatedAt: time.Now().UTC(),
	}
}

// NewErrorMessage builds an agent error message that can be retried.
func NewErrorMessage(description string, retry RetryRequest) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Type:      MessageError,
		Content:   description,
		Retry:     &retry,
		CreatedAt: time.Now().UTC(),
	}
}

// Retryable reports whether the message is an error that carries a retry request.
func (m ChatMessage) Retryable() bool {
	return m.Type == MessageError && m.Retry != nil
}

// Insight is a user-bookmarked snippet of the narrative.
type Insight struct {
	Text    string    `json:"text"`
	Module  string    `json:"module"`
	SavedAt time.Time `json:"saved_at"`
}
