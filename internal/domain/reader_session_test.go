package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimRetryableRemovesOnlyTrailingError(t *testing.T) {
	s := &ReaderSession{}
	s.Append(
		NewTextMessage(RoleUser, "hola"),
		NewErrorMessage("boom", RetryRequest{Capability: CapabilityChat, Input: "hola", Persona: "chat"}),
	)

	req, ok := s.TrimRetryable()
	require.True(t, ok)
	assert.Equal(t, "hola", req.Input)
	assert.Equal(t, CapabilityChat, req.Capability)
	require.Len(t, s.History, 1)
	assert.Equal(t, RoleUser, s.History[0].Role)

	_, ok = s.TrimRetryable()
	assert.False(t, ok)
	assert.Len(t, s.History, 1)
}

func TestResetHistoryKeepsInsights(t *testing.T) {
	s := &ReaderSession{}
	s.Append(NewTextMessage(RoleUser, "a"), NewTextMessage(RoleAgent, "b"))
	s.SaveInsight("El músculo no es opcional.", "intro")

	s.ResetHistory("greeting")

	require.Len(t, s.History, 1)
	assert.Equal(t, "greeting", s.History[0].Content)
	assert.Len(t, s.Insights, 1)
}

func TestCloneIsIndependent(t *testing.T) {
	s := &ReaderSession{}
	s.Append(NewTextMessage(RoleUser, "a"))

	c := s.Clone()
	c.Append(NewTextMessage(RoleUser, "b"))

	assert.Len(t, s.History, 1)
	assert.Len(t, c.History, 2)
}
