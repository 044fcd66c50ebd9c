package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/metrics"
)

// capability is the request lifecycle shared by the three adapters:
// one call in flight per user, fire once, no internal retry.
type capability struct {
	name    domain.Capability
	model   string
	timeout time.Duration
	tracker *Tracker
	metrics *metrics.Metrics
	log     ConversationLogger
}

func newCapability(name domain.Capability, model string, timeout time.Duration, m *metrics.Metrics, log ConversationLogger) capability {
	if log == nil {
		log = noopConversationLogger{}
	}
	return capability{
		name:    name,
		model:   model,
		timeout: timeout,
		tracker: NewTracker(),
		metrics: m,
		log:     log,
	}
}

// do runs call with the busy flag held and records its outcome.
// failureMessage maps an error to the reader-facing description.
func (c *capability) do(ctx context.Context, userID string, call func(ctx context.Context) error, failureMessage func(error) string) error {
	if !c.tracker.TryBegin(userID) {
		c.metrics.RecordBusy(string(c.name))
		return ErrBusy
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	if err == nil {
		c.tracker.End(userID, "")
		c.metrics.RecordCapability(string(c.name), c.model, "ok", elapsed)
		return nil
	}

	msg := failureMessage(err)
	c.tracker.End(userID, msg)
	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	c.metrics.RecordCapability(string(c.name), c.model, outcome, elapsed)
	slog.Warn("Capability call failed",
		"capability", c.name,
		"model", c.model,
		"user_id", userID,
		"duration", elapsed,
		"error", err,
	)
	return &Failure{Capability: c.name, Message: msg, Err: err}
}

// Status returns the busy flag and last error for userID.
func (c *capability) Status(userID string) Status {
	return c.tracker.Status(userID)
}

// Forget drops the per-user state.
func (c *capability) Forget(userID string) {
	c.tracker.Forget(userID)
}

func (c *capability) logEvent(userID, sessionID, direction, eventType, content string, meta map[string]any) {
	c.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    string(c.name),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}
