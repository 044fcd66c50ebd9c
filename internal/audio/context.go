package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// State is the playback state of one owner.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
)

// Release reasons, used in logs.
const (
	reasonEnded    = "ended"
	reasonStopped  = "stopped"
	reasonReplaced = "replaced"
	reasonTeardown = "teardown"
)

var (
	// ErrClosed is returned once the context has been torn down.
	ErrClosed = errors.New("audio context closed")
	// ErrEmpty is returned when there is nothing to play.
	ErrEmpty = errors.New("empty audio buffer")
	// ErrReleased is returned when streaming a source that is no longer held.
	ErrReleased = errors.New("audio source released")
	// ErrCancelled is returned by StartLoaded when the owner stopped
	// playback while the audio was still loading.
	ErrCancelled = errors.New("audio playback cancelled")
)

const streamChunkSize = 32 * 1024

// Listener observes playback state changes.
type Listener func(owner string, state State)

// Options configures a Context.
type Options struct {
	SampleRate int
	Channels   int
	// EndGrace is added to the buffer duration before a source counts as
	// ended on its own.
	EndGrace time.Duration
	Metrics  *metrics.Metrics
}

// Context is the single audio output of the process. It holds at most one
// source per owner; starting a new one releases the previous one first.
type Context struct {
	mu       sync.Mutex
	opts     Options
	sources  map[string]*Source
	byID     map[string]*Source
	// loading maps an owner to the token of its pending load.
	loading  map[string]uint64
	loadSeq  uint64
	closed   bool
	listener Listener
}

// NewContext creates an output context.
func NewContext(opts Options) *Context {
	if opts.SampleRate <= 0 {
		opts.SampleRate = SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = Channels
	}
	if opts.EndGrace < 0 {
		opts.EndGrace = 0
	}
	return &Context{
		opts:    opts,
		sources: make(map[string]*Source),
		byID:    make(map[string]*Source),
		loading: make(map[string]uint64),
	}
}

// SetListener registers the playback state observer.
func (c *Context) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// BeginLoading marks owner as waiting for synthesis. The returned token
// identifies this load for EndLoading and StartLoaded; a later BeginLoading
// or a Stop invalidates it.
func (c *Context) BeginLoading(owner string) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.loadSeq++
	token := c.loadSeq
	c.loading[owner] = token
	state, listener := c.stateLocked(owner), c.listener
	c.mu.Unlock()

	notify(listener, owner, state)
	return token, nil
}

// EndLoading clears the loading mark of token without starting playback.
func (c *Context) EndLoading(owner string, token uint64) {
	c.mu.Lock()
	if c.loading[owner] != token {
		c.mu.Unlock()
		return
	}
	delete(c.loading, owner)
	state, listener := c.stateLocked(owner), c.listener
	c.mu.Unlock()

	notify(listener, owner, state)
}

// Start acquires a source for pcm and starts its playback clock.
// Any source previously held by owner is released first.
func (c *Context) Start(owner string, pcm []byte) (*Source, error) {
	return c.start(owner, pcm, 0)
}

// StartLoaded is Start for a load begun with BeginLoading. It fails with
// ErrCancelled when the load was stopped or superseded in the meantime.
func (c *Context) StartLoaded(owner string, token uint64, pcm []byte) (*Source, error) {
	return c.start(owner, pcm, token)
}

func (c *Context) start(owner string, pcm []byte, token uint64) (*Source, error) {
	if len(pcm) == 0 {
		return nil, ErrEmpty
	}
	frames, err := DecodePCM16(pcm, c.opts.Channels)
	if err != nil {
		return nil, fmt.Errorf("decode speech: %w", err)
	}
	duration := time.Duration(len(frames[0])) * time.Second / time.Duration(c.opts.SampleRate)

	src := &Source{
		ID:        uuid.NewString(),
		Owner:     owner,
		StartedAt: time.Now(),
		wav:       EncodeWAV(pcm, c.opts.SampleRate, c.opts.Channels),
		duration:  duration,
		done:      make(chan struct{}),
		ctx:       c,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if token != 0 && c.loading[owner] != token {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	prev := c.sources[owner]
	c.sources[owner] = src
	c.byID[src.ID] = src
	delete(c.loading, owner)
	listener := c.listener
	c.mu.Unlock()

	c.opts.Metrics.AudioSourceAcquired(len(pcm))
	if prev != nil {
		prev.release(reasonReplaced)
	}

	src.mu.Lock()
	src.timer = time.AfterFunc(duration+c.opts.EndGrace, func() { src.release(reasonEnded) })
	src.mu.Unlock()

	slog.Debug("Audio source started",
		"owner", owner,
		"source_id", src.ID,
		"duration", duration,
		"size", humanize.Bytes(uint64(len(src.wav))),
	)
	notify(listener, owner, StatePlaying)
	return src, nil
}

// Stop releases the source held by owner and cancels any pending load, so
// audio still being synthesized never starts. It reports whether anything
// was playing or loading.
func (c *Context) Stop(owner string) bool {
	c.mu.Lock()
	src := c.sources[owner]
	_, wasLoading := c.loading[owner]
	delete(c.loading, owner)
	listener := c.listener
	c.mu.Unlock()

	if src != nil {
		released := src.release(reasonStopped)
		return released || wasLoading
	}
	if wasLoading {
		notify(listener, owner, StateIdle)
	}
	return wasLoading
}

// Source looks up a held source by id.
func (c *Context) Source(id string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.byID[id]
	return src, ok
}

// Current returns the source held by owner, if any.
func (c *Context) Current(owner string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[owner]
	return src, ok
}

// State returns the playback state of owner.
func (c *Context) State(owner string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(owner)
}

// Active returns the number of held sources.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Close releases every source. Later Start calls fail with ErrClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	held := make([]*Source, 0, len(c.sources))
	for _, src := range c.sources {
		held = append(held, src)
	}
	c.loading = make(map[string]uint64)
	c.mu.Unlock()

	for _, src := range held {
		src.release(reasonTeardown)
	}
	slog.Info("Audio context closed", "released", len(held))
	return nil
}

func (c *Context) stateLocked(owner string) State {
	if _, ok := c.sources[owner]; ok {
		return StatePlaying
	}
	if _, ok := c.loading[owner]; ok {
		return StateLoading
	}
	return StateIdle
}

func notify(l Listener, owner string, state State) {
	if l != nil {
		l(owner, state)
	}
}

// Source is one playing buffer. It is released exactly once: when its
// duration elapses, when stopped, when replaced, or on teardown.
type Source struct {
	ID        string
	Owner     string
	StartedAt time.Time

	wav      []byte
	duration time.Duration
	ctx      *Context

	mu    sync.Mutex
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

// Duration returns the playback length.
func (s *Source) Duration() time.Duration {
	return s.duration
}

// Size returns the WAV size in bytes.
func (s *Source) Size() int {
	return len(s.wav)
}

// Done is closed when the source is released.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Released reports whether the source has been released.
func (s *Source) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stop releases the source. Safe to call more than once.
func (s *Source) Stop() {
	s.release(reasonStopped)
}

// WriteTo streams the WAV to w, aborting with ErrReleased if the source is
// released mid-stream.
func (s *Source) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for off := 0; off < len(s.wav); off += streamChunkSize {
		if s.Released() {
			return written, ErrReleased
		}
		end := off + streamChunkSize
		if end > len(s.wav) {
			end = len(s.wav)
		}
		n, err := w.Write(s.wav[off:end])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write audio: %w", err)
		}
	}
	return written, nil
}

func (s *Source) release(reason string) bool {
	released := false
	s.once.Do(func() {
		released = true

		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		close(s.done)

		c := s.ctx
		c.mu.Lock()
		if c.sources[s.Owner] == s {
			delete(c.sources, s.Owner)
		}
		delete(c.byID, s.ID)
		state, listener := c.stateLocked(s.Owner), c.listener
		c.mu.Unlock()

		c.opts.Metrics.AudioSourceReleased()
		slog.Debug("Audio source released",
			"owner", s.Owner,
			"source_id", s.ID,
			"reason", reason,
			"played", time.Since(s.StartedAt).Round(time.Millisecond),
		)
		notify(listener, s.Owner, state)
	})
	return released
}
