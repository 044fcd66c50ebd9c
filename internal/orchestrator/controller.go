// Package orchestrator turns reader intents into session changes and AI
// capability calls: persona switching with the email gate, onboarding, chat
// and image submissions, retry, narration and memory clearing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ngx-reader/internal/agent"
	"github.com/ashureev/ngx-reader/internal/audio"
	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/funnel"
	"github.com/ashureev/ngx-reader/internal/live"
	"github.com/ashureev/ngx-reader/internal/persona"
	"github.com/ashureev/ngx-reader/internal/store"
)

// Greetings written by the assistant.
const (
	InitialGreeting = "Bienvenido. Soy Logos. Selecciona un modo abajo para interactuar: Mentor, Investigador, Coach o Visualizador."
	ClearedGreeting = "Memoria purgada. Sistemas reiniciados. ¿En qué puedo ayudarte hoy?"
)

var (
	ErrEmptyInput         = errors.New("input is empty")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrUnknownSection     = errors.New("unknown section")
	ErrUnknownPersona     = errors.New("unknown persona")
	ErrUnknownPreset      = errors.New("unknown preset")
	ErrUnknownKeyword     = errors.New("unknown keyword")
	ErrUnknownHotspot     = errors.New("unknown hotspot")
	ErrNothingToRetry     = errors.New("nothing to retry")
	ErrOnboardingRequired = errors.New("onboarding not completed")
	ErrOffline            = errors.New("ai service not configured")
	ErrBusy               = agent.ErrBusy
)

// Narrator is the speech side of the capability adapters.
type Narrator interface {
	Play(ctx context.Context, req agent.SpeechRequest) (*audio.Source, error)
	Stop(userID string) bool
	PlaybackState(userID string) audio.State
	Status(userID string) agent.Status
	SetPlaybackListener(l audio.Listener)
}

// Deps are the collaborators of a Controller. Chat, Image and Speech may be
// nil, which puts the controller in offline mode.
type Deps struct {
	Repo     store.Repository
	Content  *content.Store
	Personas *persona.Registry
	Chat     agent.Chatter
	Image    agent.Imager
	Speech   Narrator
	Funnel   funnel.Tracker
	Events   live.Publisher
}

// Controller serializes session mutations per user. AI calls run outside
// the user lock, so their results are appended in completion order.
type Controller struct {
	repo     store.Repository
	content  *content.Store
	personas *persona.Registry
	chat     agent.Chatter
	image    agent.Imager
	speech   Narrator
	funnel   funnel.Tracker
	events   live.Publisher

	locks *keyedMutex

	claimsMu sync.Mutex
	claims   map[claimKey]bool
}

type claimKey struct {
	userID     string
	capability domain.Capability
}

// New creates a Controller.
func New(d Deps) *Controller {
	c := &Controller{
		repo:     d.Repo,
		content:  d.Content,
		personas: d.Personas,
		chat:     d.Chat,
		image:    d.Image,
		speech:   d.Speech,
		funnel:   d.Funnel,
		events:   d.Events,
		locks:    newKeyedMutex(),
		claims:   make(map[claimKey]bool),
	}
	if c.funnel == nil {
		c.funnel = discardFunnel{}
	}
	if c.events == nil {
		c.events = live.Discard{}
	}
	if c.speech != nil {
		c.speech.SetPlaybackListener(func(owner string, state audio.State) {
			c.publish(owner, live.EventPlayback, Playback{State: state})
		})
	}
	return c
}

// Offline reports whether AI capabilities are unavailable.
func (c *Controller) Offline() bool {
	return c.chat == nil || c.image == nil || c.speech == nil
}

// Snapshot is the full reader state returned to clients.
type Snapshot struct {
	UserID          string                             `json:"user_id"`
	ActiveSectionID string                             `json:"active_section"`
	ActivePersona   string                             `json:"active_persona"`
	PendingPersona  string                             `json:"pending_persona,omitempty"`
	OnboardingSeen  bool                               `json:"onboarding_seen"`
	EmailVerified   bool                               `json:"email_verified"`
	Email           string                             `json:"email,omitempty"`
	History         []domain.ChatMessage               `json:"history"`
	Insights        []domain.Insight                   `json:"insights"`
	Capabilities    map[domain.Capability]agent.Status `json:"capabilities"`
	Playback        audio.State                        `json:"playback"`
	Offline         bool                               `json:"offline"`
}

// Snapshot returns the current state for userID.
func (c *Controller) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	unlock := c.locks.Lock(userID)
	s, err := c.load(ctx, userID)
	unlock()
	if err != nil {
		return nil, err
	}
	return c.snapshot(s), nil
}

func (c *Controller) snapshot(s *domain.ReaderSession) *Snapshot {
	snap := &Snapshot{
		UserID:          s.UserID,
		ActiveSectionID: s.ActiveSectionID,
		ActivePersona:   s.ActivePersona,
		PendingPersona:  s.PendingPersona,
		OnboardingSeen:  s.OnboardingSeen,
		EmailVerified:   s.EmailVerified,
		Email:           s.Email,
		History:         s.History,
		Insights:        s.Insights,
		Capabilities:    make(map[domain.Capability]agent.Status, 3),
		Playback:        audio.StateIdle,
		Offline:         c.Offline(),
	}
	if snap.Insights == nil {
		snap.Insights = []domain.Insight{}
	}
	if c.chat != nil {
		snap.Capabilities[domain.CapabilityChat] = c.chat.Status(s.UserID)
	}
	if c.image != nil {
		snap.Capabilities[domain.CapabilityImage] = c.image.Status(s.UserID)
	}
	if c.speech != nil {
		snap.Capabilities[domain.CapabilitySpeech] = c.speech.Status(s.UserID)
		snap.Playback = c.speech.PlaybackState(s.UserID)
	}
	return snap
}

// load returns the stored session or a fresh one. Callers hold the user lock.
func (c *Controller) load(ctx context.Context, userID string) (*domain.ReaderSession, error) {
	s, err := c.repo.GetReaderSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		now := time.Now().UTC()
		s = &domain.ReaderSession{
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.ResetHistory(InitialGreeting)
	}
	if _, err := c.content.Section(s.ActiveSectionID); err != nil {
		s.ActiveSectionID = c.content.DefaultSection().ID
	}
	if _, err := c.personas.Get(s.ActivePersona); err != nil {
		s.ActivePersona = c.personas.Default().ID
	}
	return s, nil
}

// mutate runs fn on the user's session under the user lock and saves it.
// Unless allowBeforeOnboarding is set, sessions that have not finished
// onboarding are rejected.
func (c *Controller) mutate(ctx context.Context, userID string, allowBeforeOnboarding bool, fn func(s *domain.ReaderSession) error) (*domain.ReaderSession, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	s, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowBeforeOnboarding && !s.OnboardingSeen {
		return nil, ErrOnboardingRequired
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (c *Controller) save(ctx context.Context, s *domain.ReaderSession) error {
	s.UpdatedAt = time.Now().UTC()
	if err := c.repo.UpsertReaderSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// claim marks capability busy for userID at the controller level so the
// busy check and dispatch cannot interleave with another submission.
func (c *Controller) claim(userID string, capability domain.Capability) bool {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	key := claimKey{userID, capability}
	if c.claims[key] {
		return false
	}
	c.claims[key] = true
	return true
}

func (c *Controller) release(userID string, capability domain.Capability) {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	delete(c.claims, claimKey{userID, capability})
}

func (c *Controller) publish(userID, eventType string, data any) {
	c.events.Publish(userID, live.Event{Type: eventType, Data: data, At: time.Now().UTC()})
}

func (c *Controller) track(userID, action, label string, value any) {
	c.funnel.Track(funnel.Event{Action: action, Label: label, Value: value, UserID: userID})
}

type discardFunnel struct{}

func (discardFunnel) Track(funnel.Event) {}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func logDispatch(userID string, capability domain.Capability, persona string, inputLen int) {
	slog.Info("Dispatching capability request",
		"user_id", userID,
		"capability", capability,
		"persona", persona,
		"input_length", inputLen,
	)
}
