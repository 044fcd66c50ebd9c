package persona

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHasFivePersonas(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	var ids []string
	for _, p := range r.All() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"chat", "visual", "mentor", "research", "coach"}, ids)
	assert.Equal(t, "chat", r.Default().ID)

	gated, ok := r.FirstGated()
	require.True(t, ok)
	assert.Equal(t, "coach", gated.ID)

	visual, err := r.Get("visual")
	require.NoError(t, err)
	assert.Equal(t, CapabilityImage, visual.Capability)
	assert.True(t, visual.HasPreset("Sinapsis Neuronal"))
	assert.False(t, visual.HasPreset("Otra cosa"))

	mentor, err := r.Get("mentor")
	require.NoError(t, err)
	assert.Contains(t, mentor.SystemPromptPrefix, "profesor amable")
}

func TestShortcuts(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	p, ok := r.ByShortcut("5")
	require.True(t, ok)
	assert.Equal(t, "coach", p.ID)

	_, ok = r.ByShortcut("9")
	assert.False(t, ok)
}

func TestGetUnknown(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	_, err = r.Get("pirate")
	assert.True(t, errors.Is(err, ErrUnknown))
}

func TestParseRejectsGatedDefault(t *testing.T) {
	_, err := Parse([]byte(`
default: coach
personas:
  - {id: coach, capability: chat, gated: true}
`))
	require.Error(t, err)
}
