// Package live pushes session events to every open tab of a reader device,
// over Server-Sent Events or a websocket.
package live

import (
	"time"
)

// Event types.
const (
	EventMessage      = "message"
	EventHistoryReset = "history_reset"
	EventHistoryTrim  = "history_trim"
	EventPersona      = "persona"
	EventEmailGate    = "email_gate"
	EventSection      = "section"
	EventInsight      = "insight"
	EventBusy         = "busy"
	EventPlayback     = "playback"
	EventOnboarding   = "onboarding"
)

// Event is one pushed session change.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Publisher delivers events to a user's subscribers.
type Publisher interface {
	Publish(userID string, e Event)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(string, Event) {}
