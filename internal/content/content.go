// Package content provides the read-only book: sections, knowledge cards,
// visualization hotspots and onboarding steps.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/book.yaml
var bookYAML []byte

// ErrNotFound is returned when a section, card or hotspot id is unknown.
var ErrNotFound = errors.New("content not found")

// PartType classifies a text fragment of a section.
type PartType string

const (
	PartText    PartType = "text"
	PartKeyword PartType = "keyword"
	PartInsight PartType = "insight"
)

// TextPart is one fragment of a section body.
type TextPart struct {
	Type      PartType `yaml:"type" json:"type"`
	Content   string   `yaml:"content" json:"content"`
	KeywordID string   `yaml:"id,omitempty" json:"id,omitempty"`
}

// Section is a chapter of the book.
type Section struct {
	ID         string     `yaml:"id" json:"id"`
	Title      string     `yaml:"title" json:"title"`
	Subtitle   string     `yaml:"subtitle" json:"subtitle"`
	ReadTime   string     `yaml:"read_time" json:"read_time"`
	VisualType string     `yaml:"visual_type" json:"visual_type"`
	ModelType  string     `yaml:"model_type" json:"model_type"`
	Parts      []TextPart `yaml:"parts" json:"parts"`
}

// PlainText joins every fragment of the section.
func (s Section) PlainText() string {
	parts := make([]string, 0, len(s.Parts))
	for _, p := range s.Parts {
		parts = append(parts, p.Content)
	}
	return strings.Join(parts, " ")
}

// KnowledgeCard is the info shown when a keyword is clicked.
type KnowledgeCard struct {
	ID     string `yaml:"-" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Body   string `yaml:"body" json:"body"`
	Action string `yaml:"action" json:"action"`
}

// Hotspot is a labeled point of interest on a visualization model.
type Hotspot struct {
	ID          string     `yaml:"id" json:"id"`
	Label       string     `yaml:"label" json:"label"`
	Description string     `yaml:"description" json:"description"`
	Color       string     `yaml:"color" json:"color"`
	Position    [3]float64 `yaml:"position" json:"position"`
}

// OnboardingStep is one page of the first-run walkthrough.
type OnboardingStep struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Highlight   string   `yaml:"highlight" json:"highlight"`
	Tips        []string `yaml:"tips" json:"tips"`
}

type book struct {
	Sections   []Section                `yaml:"sections"`
	Knowledge  map[string]KnowledgeCard `yaml:"knowledge"`
	Hotspots   map[string][]Hotspot     `yaml:"hotspots"`
	Onboarding []OnboardingStep         `yaml:"onboarding"`
}

// Store is an immutable, in-memory view of the book.
type Store struct {
	sections   []Section
	byID       map[string]int
	knowledge  map[string]KnowledgeCard
	hotspots   map[string][]Hotspot
	onboarding []OnboardingStep
}

// Load parses the embedded book.
func Load() (*Store, error) {
	return Parse(bookYAML)
}

// Parse builds a Store from YAML and checks that every keyword fragment
// points at an existing knowledge card.
func Parse(data []byte) (*Store, error) {
	var b book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}
	if len(b.Sections) == 0 {
		return nil, fmt.Errorf("book has no sections")
	}

	s := &Store{
		sections:   b.Sections,
		byID:       make(map[string]int, len(b.Sections)),
		knowledge:  make(map[string]KnowledgeCard, len(b.Knowledge)),
		hotspots:   b.Hotspots,
		onboarding: b.Onboarding,
	}
	for id, card := range b.Knowledge {
		card.ID = id
		s.knowledge[id] = card
	}
	for i, sec := range b.Sections {
		if _, dup := s.byID[sec.ID]; dup {
			return nil, fmt.Errorf("duplicate section id %q", sec.ID)
		}
		s.byID[sec.ID] = i
		for _, p := range sec.Parts {
			if p.Type != PartKeyword {
				continue
			}
			if _, ok := s.knowledge[p.KeywordID]; !ok {
				return nil, fmt.Errorf("section %q: keyword %q has no knowledge card", sec.ID, p.KeywordID)
			}
		}
	}
	return s, nil
}

// Sections returns all sections in reading order.
func (s *Store) Sections() []Section {
	return s.sections
}

// DefaultSection is the first section of the book.
func (s *Store) DefaultSection() Section {
	return s.sections[0]
}

// Section looks a section up by id.
func (s *Store) Section(id string) (Section, error) {
	i, ok := s.byID[id]
	if !ok {
		return Section{}, fmt.Errorf("section %q: %w", id, ErrNotFound)
	}
	return s.sections[i], nil
}

// SectionOrDefault returns the section with id, or the first section.
func (s *Store) SectionOrDefault(id string) Section {
	if sec, err := s.Section(id); err == nil {
		return sec
	}
	return s.DefaultSection()
}

// Knowledge looks a knowledge card up by keyword id.
func (s *Store) Knowledge(id string) (KnowledgeCard, error) {
	card, ok := s.knowledge[id]
	if !ok {
		return KnowledgeCard{}, fmt.Errorf("knowledge %q: %w", id, ErrNotFound)
	}
	return card, nil
}

// KnowledgeBase returns every card ordered by first appearance in the book,
// followed by cards no section references.
func (s *Store) KnowledgeBase() []KnowledgeCard {
	seen := make(map[string]bool, len(s.knowledge))
	cards := make([]KnowledgeCard, 0, len(s.knowledge))
	for _, sec := range s.sections {
		for _, p := range sec.Parts {
			if p.Type == PartKeyword && !seen[p.KeywordID] {
				seen[p.KeywordID] = true
				cards = append(cards, s.knowledge[p.KeywordID])
			}
		}
	}
	for id, card := range s.knowledge {
		if !seen[id] {
			cards = append(cards, card)
		}
	}
	return cards
}

// Hotspots returns the hotspots of a visualization model type.
func (s *Store) Hotspots(model string) ([]Hotspot, error) {
	hs, ok := s.hotspots[model]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", model, ErrNotFound)
	}
	return hs, nil
}

// Hotspot looks a single hotspot up.
func (s *Store) Hotspot(model, id string) (Hotspot, error) {
	hs, err := s.Hotspots(model)
	if err != nil {
		return Hotspot{}, err
	}
	for _, h := range hs {
		if h.ID == id {
			return h, nil
		}
	}
	return Hotspot{}, fmt.Errorf("hotspot %s/%s: %w", model, id, ErrNotFound)
}

// Onboarding returns the first-run walkthrough.
func (s *Store) Onboarding() []OnboardingStep {
	return s.onboarding
}

// Search returns sections whose title, subtitle or any fragment contains the
// query, case-insensitively. A blank query matches nothing.
func (s *Store) Search(query string) []Section {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Section
	for _, sec := range s.sections {
		if matches(sec, q) {
			out = append(out, sec)
		}
	}
	return out
}

func matches(sec Section, q string) bool {
	if strings.Contains(strings.ToLower(sec.Title), q) ||
		strings.Contains(strings.ToLower(sec.Subtitle), q) {
		return true
	}
	for _, p := range sec.Parts {
		if strings.Contains(strings.ToLower(p.Content), q) {
			return true
		}
	}
	return false
}
