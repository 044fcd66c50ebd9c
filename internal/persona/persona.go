// Package persona holds the fixed registry of assistant personas.
package persona

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/personas.yaml
var personasYAML []byte

// ErrUnknown is returned for persona ids that are not registered.
var ErrUnknown = errors.New("unknown persona")

// Capability routes a persona's submissions to an AI capability.
type Capability string

const (
	CapabilityChat  Capability = "chat"
	CapabilityImage Capability = "image"
)

// Persona is one assistant behavior profile.
type Persona struct {
	ID                 string     `yaml:"id" json:"id"`
	Label              string     `yaml:"label" json:"label"`
	Color              string     `yaml:"color" json:"color"`
	Hex                string     `yaml:"hex" json:"hex"`
	Shortcut           string     `yaml:"shortcut" json:"shortcut"`
	Capability         Capability `yaml:"capability" json:"capability"`
	Gated              bool       `yaml:"gated" json:"gated"`
	Placeholder        string     `yaml:"placeholder" json:"placeholder"`
	SystemPromptPrefix string     `yaml:"system_prompt_prefix" json:"-"`
	Presets            []string   `yaml:"presets,omitempty" json:"presets,omitempty"`
}

// HasPreset reports whether p offers the given preset suggestion.
func (p Persona) HasPreset(preset string) bool {
	for _, candidate := range p.Presets {
		if candidate == preset {
			return true
		}
	}
	return false
}

// Registry is the immutable persona set.
type Registry struct {
	ordered  []Persona
	byID     map[string]int
	fallback string
}

type registryFile struct {
	Default  string    `yaml:"default"`
	Personas []Persona `yaml:"personas"`
}

// Load parses the embedded registry.
func Load() (*Registry, error) {
	return Parse(personasYAML)
}

// Parse builds a Registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	r := &Registry{
		ordered:  f.Personas,
		byID:     make(map[string]int, len(f.Personas)),
		fallback: f.Default,
	}
	for i, p := range f.Personas {
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.ID)
		}
		switch p.Capability {
		case CapabilityChat, CapabilityImage:
		default:
			return nil, fmt.Errorf("persona %q: unsupported capability %q", p.ID, p.Capability)
		}
		r.byID[p.ID] = i
	}
	if _, ok := r.byID[r.fallback]; !ok {
		return nil, fmt.Errorf("default persona %q is not registered", r.fallback)
	}
	if r.ordered[r.byID[r.fallback]].Gated {
		return nil, fmt.Errorf("default persona %q cannot be gated", r.fallback)
	}
	return r, nil
}

// Get looks a persona up by id.
func (r *Registry) Get(id string) (Persona, error) {
	i, ok := r.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	return r.ordered[i], nil
}

// Default returns the persona active on a fresh session.
func (r *Registry) Default() Persona {
	return r.ordered[r.byID[r.fallback]]
}

// All returns personas in display order.
func (r *Registry) All() []Persona {
	return r.ordered
}

// FirstGated returns the first persona behind the email gate, if any.
func (r *Registry) FirstGated() (Persona, bool) {
	for _, p := range r.ordered {
		if p.Gated {
			return p, true
		}
	}
	return Persona{}, false
}

// ByShortcut resolves a keyboard shortcut to a persona.
func (r *Registry) ByShortcut(key string) (Persona, bool) {
	for _, p := range r.ordered {
		if p.Shortcut == key {
			return p, true
		}
	}
	return Persona{}, false
}
