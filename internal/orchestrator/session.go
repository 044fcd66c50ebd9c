package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/funnel"
	"github.com/ashureev/ngx-reader/internal/live"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SwitchResult reports where a persona switch landed.
type SwitchResult struct {
	Active  string `json:"active"`
	Pending string `json:"pending,omitempty"`
	// Gated is set when the switch was held back by the email gate.
	Gated bool `json:"gated"`
}

// CompleteOnboarding marks the walkthrough as seen. It is sticky and safe to
// repeat; analytics fire only the first time.
func (c *Controller) CompleteOnboarding(ctx context.Context, userID string, skipped bool) (*Snapshot, error) {
	first := false
	s, err := c.mutate(ctx, userID, true, func(s *domain.ReaderSession) error {
		first = !s.OnboardingSeen
		s.OnboardingSeen = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if first {
		action := funnel.ActionOnboardingCompleted
		if skipped {
			action = funnel.ActionOnboardingSkipped
		}
		c.track(userID, action, "", nil)
		c.publish(userID, live.EventOnboarding, map[string]bool{"seen": true})
	}
	return c.snapshot(s), nil
}

// NavigateSection makes sectionID the active section.
func (c *Controller) NavigateSection(ctx context.Context, userID, sectionID string) error {
	if _, err := c.content.Section(sectionID); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSection, sectionID)
	}
	_, err := c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		s.ActiveSectionID = sectionID
		return nil
	})
	if err != nil {
		return err
	}
	c.publish(userID, live.EventSection, map[string]string{"id": sectionID})
	return nil
}

// SwitchPersona activates personaID. A gated persona without a verified
// email is only recorded as pending and the email gate is shown instead.
func (c *Controller) SwitchPersona(ctx context.Context, userID, personaID string) (SwitchResult, error) {
	p, err := c.personas.Get(personaID)
	if err != nil {
		return SwitchResult{}, fmt.Errorf("%w: %s", ErrUnknownPersona, personaID)
	}

	var res SwitchResult
	_, err = c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		if p.Gated && !s.EmailVerified {
			s.PendingPersona = p.ID
			res = SwitchResult{Active: s.ActivePersona, Pending: p.ID, Gated: true}
			return nil
		}
		s.ActivePersona = p.ID
		s.PendingPersona = ""
		res = SwitchResult{Active: p.ID}
		return nil
	})
	if err != nil {
		return SwitchResult{}, err
	}

	if res.Gated {
		c.track(userID, funnel.ActionEmailGateShown, p.ID, nil)
		c.publish(userID, live.EventEmailGate, res)
		return res, nil
	}
	c.track(userID, funnel.ActionModeSwitch, p.ID, nil)
	c.publish(userID, live.EventPersona, res)
	return res, nil
}

// SubmitEmail verifies the reader's email and commits the persona that was
// waiting behind the gate. Verification is permanent.
func (c *Controller) SubmitEmail(ctx context.Context, userID, email string) (SwitchResult, error) {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return SwitchResult{}, ErrInvalidEmail
	}

	var res SwitchResult
	_, err := c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		target := s.PendingPersona
		if target == "" {
			if gated, ok := c.personas.FirstGated(); ok {
				target = gated.ID
			} else {
				target = s.ActivePersona
			}
		}
		s.EmailVerified = true
		s.Email = email
		s.ActivePersona = target
		s.PendingPersona = ""
		res = SwitchResult{Active: target}
		return nil
	})
	if err != nil {
		return SwitchResult{}, err
	}

	c.track(userID, funnel.ActionEmailCaptured, email, res.Active)
	c.publish(userID, live.EventPersona, res)
	return res, nil
}

// SaveInsight bookmarks text. An empty module defaults to the active section.
func (c *Controller) SaveInsight(ctx context.Context, userID, text, module string) (*domain.Insight, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	module = strings.TrimSpace(module)

	var saved domain.Insight
	_, err := c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		if module == "" {
			module = c.moduleLabel(s.ActiveSectionID)
		}
		saved = s.SaveInsight(text, module)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.track(userID, funnel.ActionInsightSaved, module, nil)
	c.publish(userID, live.EventInsight, saved)
	return &saved, nil
}

// moduleLabel names the module an insight belongs to: the section subtitle,
// or its id when the section has none.
func (c *Controller) moduleLabel(sectionID string) string {
	sec, err := c.content.Section(sectionID)
	if err != nil || sec.Subtitle == "" {
		return sectionID
	}
	return sec.Subtitle
}

// OpenKeyword appends the knowledge card of keywordID to the history.
func (c *Controller) OpenKeyword(ctx context.Context, userID, keywordID string) (*domain.ChatMessage, error) {
	card, err := c.content.Knowledge(keywordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyword, keywordID)
	}
	return c.appendCard(ctx, userID, domain.NewCardMessage(card.Title, card.Body, card.Action))
}

// OpenHotspot appends a card describing a hotspot of a visualization model.
func (c *Controller) OpenHotspot(ctx context.Context, userID, model, hotspotID string) (*domain.ChatMessage, error) {
	h, err := c.content.Hotspot(model, hotspotID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownHotspot, model, hotspotID)
	}
	return c.appendCard(ctx, userID, domain.NewCardMessage(h.Label, h.Description, ""))
}

func (c *Controller) appendCard(ctx context.Context, userID string, msg domain.ChatMessage) (*domain.ChatMessage, error) {
	_, err := c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		s.Append(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(userID, live.EventMessage, msg)
	return &msg, nil
}

// ClearMemory resets the history to a single greeting. Insights are kept.
func (c *Controller) ClearMemory(ctx context.Context, userID string) (*Snapshot, error) {
	s, err := c.mutate(ctx, userID, false, func(s *domain.ReaderSession) error {
		s.ResetHistory(ClearedGreeting)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.track(userID, funnel.ActionMemoryCleared, "", nil)
	c.publish(userID, live.EventHistoryReset, s.History)
	return c.snapshot(s), nil
}
