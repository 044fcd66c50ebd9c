// Package cleanup expires readers that have been idle past the retention
// window, together with any in-memory state held on their behalf.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/ashureev/ngx-reader/internal/domain"
)

// Store is the slice of the repository the worker needs.
type Store interface {
	GetStaleUsers(ctx context.Context, ttl time.Duration) ([]*domain.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Callback is called for each expired reader before its records are deleted.
type Callback func(userID string)

// Worker sweeps stale readers on a cron schedule.
type Worker struct {
	store     Store
	schedule  string
	retention time.Duration
	onCleanup []Callback
}

// NewWorker creates a worker. schedule is a cron expression.
func NewWorker(store Store, schedule string, retention time.Duration, onCleanup ...Callback) (*Worker, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid cleanup schedule: %q", schedule)
	}
	return &Worker{
		store:     store,
		schedule:  schedule,
		retention: retention,
		onCleanup: onCleanup,
	}, nil
}

// Start runs the worker in the background until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	slog.Info("Cleanup worker started", "schedule", w.schedule, "retention", w.retention)
	for {
		next, err := gronx.NextTickAfter(w.schedule, time.Now(), false)
		wait := time.Until(next)
		if err != nil {
			slog.Error("Cleanup worker failed to compute next tick", "schedule", w.schedule, "error", err)
			wait = 30 * time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Cleanup worker shutting down", "reason", ctx.Err())
			return
		case <-timer.C:
			if err == nil {
				w.Sweep(ctx)
			}
		}
	}
}

// Sweep expires every reader idle longer than the retention window and
// returns how many were removed.
func (w *Worker) Sweep(ctx context.Context) int {
	stale, err := w.store.GetStaleUsers(ctx, w.retention)
	if err != nil {
		slog.Error("Cleanup worker failed to list stale readers", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	slog.Info("Cleanup worker found stale readers", "count", len(stale))

	removed := 0
	for _, user := range stale {
		for _, cb := range w.onCleanup {
			cb(user.UserID)
		}
		if err := w.store.DeleteUser(ctx, user.UserID); err != nil {
			slog.Warn("Cleanup worker failed to delete reader",
				"error", err,
				"user_id", user.UserID)
			continue
		}
		removed++
	}

	slog.Info("Cleanup worker sweep completed", "removed", removed)
	return removed
}
