package domain

import (
	"time"
)

// ReaderSession stores the persisted reader state for one device.
type ReaderSession struct {
	UserID          string
	ActiveSectionID string
	ActivePersona   string
	PendingPersona  string
	OnboardingSeen  bool
	EmailVerified   bool
	Email           string
	History         []ChatMessage
	Insights        []Insight
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Append adds messages to the end of the history.
func (s *ReaderSession) Append(msgs ...ChatMessage) {
	s.History = append(s.History, msgs...)
}

// LastMessage returns the trailing history entry, if any.
func (s *ReaderSession) LastMessage() (ChatMessage, bool) {
	if len(s.History) == 0 {
		return ChatMessage{}, false
	}
	return s.History[len(s.History)-1], true
}

// TrimRetryable removes the trailing message when it is a retryable error and
// returns its retry request. History is untouched otherwise.
func (s *ReaderSession) TrimRetryable() (RetryRequest, bool) {
	last, ok := s.LastMessage()
	if !ok || !last.Retryable() {
		return RetryRequest{}, false
	}
	s.History = s.History[:len(s.History)-1]
	return *last.Retry, true
}

// ResetHistory replaces the history with a single greeting. Insights are kept.
func (s *ReaderSession) ResetHistory(greeting string) {
	s.History = []ChatMessage{NewTextMessage(RoleAgent, greeting)}
}

// SaveInsight appends an insight.
func (s *ReaderSession) SaveInsight(text, module string) Insight {
	in := Insight{Text: text, Module: module, SavedAt: time.Now().UTC()}
	s.Insights = append(s.Insights, in)
	return in
}

// Clone returns a deep copy so callers can read without holding locks.
func (s *ReaderSession) Clone() *ReaderSession {
	c := *s
	c.History = append([]ChatMessage(nil), s.History...)
	c.Insights = append([]Insight(nil), s.Insights...)
	return &c
}
