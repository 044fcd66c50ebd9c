package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/ngx-reader/internal/agent"
	"github.com/ashureev/ngx-reader/internal/audio"
	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/identity"
	"github.com/ashureev/ngx-reader/internal/live"
	"github.com/ashureev/ngx-reader/internal/persona"
)

// Playback describes the narration state pushed to clients.
type Playback struct {
	SourceID   string      `json:"source_id,omitempty"`
	State      audio.State `json:"state"`
	DurationMs int64       `json:"duration_ms,omitempty"`
}

// Outcome is what a capability dispatch appended or started. Message is
// nil for a successful narration, Playback is nil for chat and image.
type Outcome struct {
	Message  *domain.ChatMessage `json:"message,omitempty"`
	Playback *Playback           `json:"playback,omitempty"`
}

// BusyChange is the payload of busy events.
type BusyChange struct {
	Capability domain.Capability `json:"capability"`
	Busy       bool              `json:"busy"`
}

// request is one capability call resolved against the session.
type request struct {
	capability domain.Capability
	persona    persona.Persona
	input      string
	section    content.Section
	// userMessage is appended before the call; retries have none.
	userMessage *domain.ChatMessage
	trimmedID   string
}

func (r request) retry() domain.RetryRequest {
	return domain.RetryRequest{
		Capability: r.capability,
		Persona:    r.persona.ID,
		Input:      r.input,
		SectionID:  r.section.ID,
	}
}

// Submit sends input to the active persona's capability. The user message
// is appended before the call and exactly one agent message after it.
func (c *Controller) Submit(ctx context.Context, userID, input string) (*Outcome, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if c.Offline() {
		return nil, ErrOffline
	}
	return c.dispatch(ctx, userID, func(s *domain.ReaderSession) (request, error) {
		p, err := c.personas.Get(s.ActivePersona)
		if err != nil {
			return request{}, fmt.Errorf("%w: %s", ErrUnknownPersona, s.ActivePersona)
		}
		return c.newSubmission(p, input, c.content.SectionOrDefault(s.ActiveSectionID)), nil
	})
}

// SubmitPreset submits one of the active persona's preset suggestions.
func (c *Controller) SubmitPreset(ctx context.Context, userID, preset string) (*Outcome, error) {
	preset = strings.TrimSpace(preset)
	if preset == "" {
		return nil, ErrEmptyInput
	}
	if c.Offline() {
		return nil, ErrOffline
	}
	return c.dispatch(ctx, userID, func(s *domain.ReaderSession) (request, error) {
		p, err := c.personas.Get(s.ActivePersona)
		if err != nil {
			return request{}, fmt.Errorf("%w: %s", ErrUnknownPersona, s.ActivePersona)
		}
		if !p.HasPreset(preset) {
			return request{}, fmt.Errorf("%w: %q for persona %s", ErrUnknownPreset, preset, p.ID)
		}
		return c.newSubmission(p, preset, c.content.SectionOrDefault(s.ActiveSectionID)), nil
	})
}

// Retry removes the trailing error message and re-issues its request.
func (c *Controller) Retry(ctx context.Context, userID string) (*Outcome, error) {
	if c.Offline() {
		return nil, ErrOffline
	}
	return c.dispatch(ctx, userID, func(s *domain.ReaderSession) (request, error) {
		last, _ := s.LastMessage()
		rr, ok := s.TrimRetryable()
		if !ok {
			return request{}, ErrNothingToRetry
		}
		p, err := c.personas.Get(rr.Persona)
		if err != nil {
			p = c.personas.Default()
		}
		return request{
			capability: rr.Capability,
			persona:    p,
			input:      rr.Input,
			section:    c.content.SectionOrDefault(rr.SectionID),
			trimmedID:  last.ID,
		}, nil
	})
}

// Narrate reads a section aloud. An empty sectionID narrates the active
// section. Any narration already playing for the user is replaced.
func (c *Controller) Narrate(ctx context.Context, userID, sectionID string) (*Outcome, error) {
	if c.Offline() {
		return nil, ErrOffline
	}
	return c.dispatch(ctx, userID, func(s *domain.ReaderSession) (request, error) {
		id := sectionID
		if id == "" {
			id = s.ActiveSectionID
		}
		sec, err := c.content.Section(id)
		if err != nil {
			return request{}, fmt.Errorf("%w: %s", ErrUnknownSection, id)
		}
		p, _ := c.personas.Get(s.ActivePersona)
		return request{
			capability: domain.CapabilitySpeech,
			persona:    p,
			input:      sec.Title,
			section:    sec,
		}, nil
	})
}

// StopNarration stops the user's narration. It reports whether anything was
// playing. Stopping only releases audio, so it is allowed before onboarding.
func (c *Controller) StopNarration(_ context.Context, userID string) (bool, error) {
	if c.speech == nil {
		return false, ErrOffline
	}
	return c.speech.Stop(userID), nil
}

func (c *Controller) newSubmission(p persona.Persona, input string, sec content.Section) request {
	req := request{persona: p, input: input, section: sec}
	var msg domain.ChatMessage
	if p.Capability == persona.CapabilityImage {
		req.capability = domain.CapabilityImage
		msg = domain.NewTextMessage(domain.RoleUser, visualizeUserMessage(input))
	} else {
		req.capability = domain.CapabilityChat
		msg = domain.NewTextMessage(domain.RoleUser, input)
	}
	req.userMessage = &msg
	return req
}

// dispatch resolves the request under the user lock, claims the capability,
// records the user side, then calls the adapter outside the lock and appends
// the outcome. The call runs detached from ctx cancellation so a closed tab
// still gets its answer persisted.
func (c *Controller) dispatch(ctx context.Context, userID string, prepare func(s *domain.ReaderSession) (request, error)) (*Outcome, error) {
	sessionID := identity.SessionIDFromContext(ctx)

	unlock := c.locks.Lock(userID)
	s, err := c.load(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	if !s.OnboardingSeen {
		unlock()
		return nil, ErrOnboardingRequired
	}
	req, err := prepare(s)
	if err != nil {
		unlock()
		return nil, err
	}
	if !c.claim(userID, req.capability) {
		unlock()
		return nil, ErrBusy
	}
	defer func() {
		c.release(userID, req.capability)
		c.publish(userID, live.EventBusy, BusyChange{Capability: req.capability, Busy: false})
	}()

	if req.userMessage != nil {
		s.Append(*req.userMessage)
	}
	if req.userMessage != nil || req.trimmedID != "" {
		if err := c.save(ctx, s); err != nil {
			unlock()
			return nil, err
		}
	}
	unlock()

	c.publish(userID, live.EventBusy, BusyChange{Capability: req.capability, Busy: true})
	if req.trimmedID != "" {
		c.publish(userID, live.EventHistoryTrim, map[string]string{"id": req.trimmedID})
	}
	if req.userMessage != nil {
		c.publish(userID, live.EventMessage, *req.userMessage)
	}
	logDispatch(userID, req.capability, req.persona.ID, len(req.input))

	callCtx := context.WithoutCancel(ctx)
	out := c.call(callCtx, userID, sessionID, req)

	if out.Message == nil {
		return out, nil
	}

	unlock = c.locks.Lock(userID)
	defer unlock()
	s, err = c.load(callCtx, userID)
	if err != nil {
		return nil, err
	}
	s.Append(*out.Message)
	if err := c.save(callCtx, s); err != nil {
		return nil, err
	}
	c.publish(userID, live.EventMessage, *out.Message)
	return out, nil
}

func (c *Controller) call(ctx context.Context, userID, sessionID string, req request) *Outcome {
	switch req.capability {
	case domain.CapabilityImage:
		res, err := c.image.Generate(ctx, agent.ImageRequest{
			UserID:      userID,
			SessionID:   sessionID,
			Prompt:      req.input,
			FinalPrompt: imagePrompt(req.input, req.section),
		})
		if err != nil {
			return c.failed(userID, req, err)
		}
		if res.HasImage() {
			msg := domain.NewImageMessage(visualizationCaption(req.input), res.Data, res.MIMEType)
			return &Outcome{Message: &msg}
		}
		msg := domain.NewTextMessage(domain.RoleAgent, res.TextFallback)
		return &Outcome{Message: &msg}

	case domain.CapabilitySpeech:
		src, err := c.speech.Play(ctx, agent.SpeechRequest{
			UserID:    userID,
			SessionID: sessionID,
			Text:      req.section.PlainText(),
		})
		if err != nil {
			return c.failed(userID, req, err)
		}
		if src == nil {
			// Stopped while the audio was loading.
			return &Outcome{Playback: &Playback{State: audio.StateIdle}}
		}
		return &Outcome{Playback: &Playback{
			SourceID:   src.ID,
			State:      audio.StatePlaying,
			DurationMs: src.Duration().Milliseconds(),
		}}

	default:
		reply, err := c.chat.Complete(ctx, agent.ChatRequest{
			UserID:            userID,
			SessionID:         sessionID,
			SystemInstruction: chatInstruction(req.persona, req.section),
			Prompt:            req.input,
		})
		if err != nil {
			return c.failed(userID, req, err)
		}
		msg := domain.NewTextMessage(domain.RoleAgent, reply)
		return &Outcome{Message: &msg}
	}
}

func (c *Controller) failed(userID string, req request, err error) *Outcome {
	slog.Warn("Capability request failed",
		"user_id", userID,
		"capability", req.capability,
		"persona", req.persona.ID,
		"error", err,
	)
	msg := domain.NewErrorMessage(failureMessage(req.capability, err), req.retry())
	return &Outcome{Message: &msg}
}

func failureMessage(capability domain.Capability, err error) string {
	var f *agent.Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	switch capability {
	case domain.CapabilityImage:
		return agent.ImageFailureMessage
	case domain.CapabilitySpeech:
		return agent.SpeechFailureMessage
	default:
		return agent.ChatFailureMessage
	}
}
