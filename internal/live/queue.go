package live

import (
	"container/list"
	"sync"
)

// ReplayQueue buffers recent events for reconnecting clients, sharded per
// user. Each user gets a bounded list so one reader's burst cannot evict
// another reader's events.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewReplayQueue creates a per-user replay queue.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends e to the user's queue, evicting the oldest entries.
func (q *ReplayQueue) Enqueue(userID string, e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[userID]
	if !ok {
		l = list.New()
		q.queues[userID] = l
	}
	l.PushBack(e)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the user's events with an ID greater than afterID.
func (q *ReplayQueue) Since(userID string, afterID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[userID]
	if !ok {
		return nil
	}
	var missed []Event
	for el := l.Front(); el != nil; el = el.Next() {
		e := el.Value.(Event)
		if e.ID > afterID {
			missed = append(missed, e)
		}
	}
	return missed
}

// Prune drops the user's queue.
func (q *ReplayQueue) Prune(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, userID)
}

// Len returns the number of users with buffered events.
func (q *ReplayQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues)
}
