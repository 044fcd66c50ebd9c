package agent

import (
	"sync"
)

// Tracker holds the per-user busy flag and last error of one capability.
// TryBegin is the only way to set the busy flag, so checking and dispatching
// happen under one lock.
type Tracker struct {
	mu     sync.Mutex
	busy   map[string]bool
	errors map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		busy:   make(map[string]bool),
		errors: make(map[string]string),
	}
}

// TryBegin marks userID busy and clears its last error.
// It returns false when a call for the user is already in flight.
func (t *Tracker) TryBegin(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.busy[userID] {
		return false
	}
	t.busy[userID] = true
	delete(t.errors, userID)
	return true
}

// End clears the busy flag and records failure, if any.
func (t *Tracker) End(userID, failure string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.busy, userID)
	if failure != "" {
		t.errors[userID] = failure
	}
}

// Status returns the current state for userID.
func (t *Tracker) Status(userID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Status{Busy: t.busy[userID], LastError: t.errors[userID]}
}

// Forget drops all state held for userID.
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.busy, userID)
	delete(t.errors, userID)
}
