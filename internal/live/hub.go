package live

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/ngx-reader/internal/metrics"
)

const subscriberBuffer = 64

// Subscription is one open tab receiving a user's events.
type Subscription struct {
	ID     int64
	UserID string
	// C is closed when the subscription ends, including when the
	// subscriber falls behind.
	C <-chan Event

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// deliver hands e to the subscriber without blocking. It reports false when
// the buffer is full.
func (s *Subscription) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans session events out to every subscription of a user and keeps a
// replay queue for reconnects.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[int64]*Subscription
	queue   *ReplayQueue
	metrics *metrics.Metrics

	eventSeq atomic.Int64
	subSeq   atomic.Int64
}

// NewHub creates a hub keeping replaySize events per user.
func NewHub(replaySize int, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[int64]*Subscription),
		queue:   NewReplayQueue(replaySize),
		metrics: m,
	}
}

// Publish implements Publisher. It never blocks: a subscriber whose buffer
// is full is disconnected and recovers through replay.
func (h *Hub) Publish(userID string, e Event) {
	if userID == "" {
		return
	}
	e.ID = h.eventSeq.Add(1)
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.queue.Enqueue(userID, e)

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs[userID]))
	for _, s := range h.subs[userID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(e) {
			slog.Warn("Live subscriber too slow, disconnecting",
				"user_id", userID,
				"subscription_id", s.ID,
				"event_id", e.ID,
			)
			h.Unsubscribe(s)
		}
	}
}

// Subscribe registers a subscription for userID. Events published after
// afterID that are still buffered are returned for replay; they are not
// delivered on the channel.
func (h *Hub) Subscribe(userID string, afterID int64) (*Subscription, []Event) {
	ch := make(chan Event, subscriberBuffer)
	s := &Subscription{
		ID:     h.subSeq.Add(1),
		UserID: userID,
		C:      ch,
		ch:     ch,
	}

	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[int64]*Subscription)
	}
	h.subs[userID][s.ID] = s
	h.mu.Unlock()
	h.metrics.SubscriberConnected()

	var missed []Event
	if afterID > 0 {
		missed = h.queue.Since(userID, afterID)
	}
	slog.Info("Live subscriber connected",
		"user_id", userID,
		"subscription_id", s.ID,
		"replayed", len(missed),
	)
	return s, missed
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	userSubs, ok := h.subs[s.UserID]
	_, present := userSubs[s.ID]
	if ok && present {
		delete(userSubs, s.ID)
		if len(userSubs) == 0 {
			delete(h.subs, s.UserID)
		}
	}
	h.mu.Unlock()

	if present {
		s.close()
		h.metrics.SubscriberDisconnected()
		slog.Info("Live subscriber disconnected", "user_id", s.UserID, "subscription_id", s.ID)
	}
}

// Forget closes every subscription of userID and drops its replay buffer.
func (h *Hub) Forget(userID string) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs[userID]))
	for _, s := range h.subs[userID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.Unsubscribe(s)
	}
	h.queue.Prune(userID)
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
