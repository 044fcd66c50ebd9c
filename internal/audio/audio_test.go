package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestDecodePCM16(t *testing.T) {
	frames, err := DecodePCM16(pcmOf(0, 16384, -32768, 32767), 1)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []float32{0, 0.5, -1, float32(32767) / 32768}, frames[0])

	stereo, err := DecodePCM16(pcmOf(1, -1, 2, -2), 2)
	require.NoError(t, err)
	assert.Len(t, stereo[0], 2)
	assert.Less(t, stereo[1][0], float32(0))

	_, err = DecodePCM16([]byte{1, 2, 3}, 1)
	assert.True(t, errors.Is(err, ErrInvalidPCM))
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := pcmOf(1, 2, 3, 4)
	wav := EncodeWAV(pcm, SampleRate, Channels)

	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Second, Duration(SampleRate*2, SampleRate, 1))
	assert.Equal(t, time.Duration(0), Duration(10, 0, 1))
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(_ string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return ""
	}
	return l.states[len(l.states)-1]
}

// longPCM is ten seconds of silence so the natural end never fires in tests.
func longPCM() []byte {
	return make([]byte, SampleRate*2*10)
}

func TestStartReplacesPreviousSource(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	first, err := c.Start("u1", longPCM())
	require.NoError(t, err)
	second, err := c.Start("u1", longPCM())
	require.NoError(t, err)

	assert.True(t, first.Released())
	assert.False(t, second.Released())
	assert.Equal(t, 1, c.Active())
	_, ok := c.Source(first.ID)
	assert.False(t, ok)
	cur, ok := c.Current("u1")
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID)
}

func TestOwnersAreIndependent(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	a, err := c.Start("a", longPCM())
	require.NoError(t, err)
	_, err = c.Start("b", longPCM())
	require.NoError(t, err)

	assert.False(t, a.Released())
	assert.Equal(t, 2, c.Active())
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	src, err := c.Start("u1", longPCM())
	require.NoError(t, err)

	assert.True(t, c.Stop("u1"))
	assert.False(t, c.Stop("u1"))
	src.Stop()
	assert.True(t, src.Released())
	assert.Equal(t, StateIdle, c.State("u1"))
}

func TestNaturalEndReleases(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	// 20ms of audio.
	src, err := c.Start("u1", make([]byte, SampleRate*2/50))
	require.NoError(t, err)

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source was not released after its duration")
	}
	assert.Eventually(t, func() bool { return c.State("u1") == StateIdle }, time.Second, 10*time.Millisecond)
}

func TestCloseReleasesEverything(t *testing.T) {
	c := NewContext(Options{})
	a, err := c.Start("a", longPCM())
	require.NoError(t, err)
	b, err := c.Start("b", longPCM())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, a.Released())
	assert.True(t, b.Released())

	_, err = c.Start("a", longPCM())
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = c.BeginLoading("a")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestStateTransitions(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()
	log := &stateLog{}
	c.SetListener(log.record)

	token, err := c.BeginLoading("u1")
	require.NoError(t, err)
	assert.Equal(t, StateLoading, c.State("u1"))

	_, err = c.StartLoaded("u1", token, longPCM())
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, c.State("u1"))

	c.Stop("u1")
	assert.Equal(t, StateIdle, c.State("u1"))
	assert.Equal(t, []State{StateLoading, StatePlaying, StateIdle}, log.states)

	token, err = c.BeginLoading("u1")
	require.NoError(t, err)
	c.EndLoading("u1", token)
	assert.Equal(t, StateIdle, log.last())
}

func TestStopDuringLoadingCancelsPlayback(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()
	log := &stateLog{}
	c.SetListener(log.record)

	token, err := c.BeginLoading("u1")
	require.NoError(t, err)
	assert.True(t, c.Stop("u1"), "a pending load counts as stopped")
	assert.Equal(t, StateIdle, c.State("u1"))

	src, err := c.StartLoaded("u1", token, longPCM())
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Nil(t, src)
	assert.Equal(t, StateIdle, c.State("u1"))
	assert.Zero(t, c.Active())
	assert.Equal(t, []State{StateLoading, StateIdle}, log.states)
}

func TestNewerLoadSupersedesOlder(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	first, err := c.BeginLoading("u1")
	require.NoError(t, err)
	second, err := c.BeginLoading("u1")
	require.NoError(t, err)

	// A stale load can neither start nor clear the newer one.
	_, err = c.StartLoaded("u1", first, longPCM())
	assert.True(t, errors.Is(err, ErrCancelled))
	c.EndLoading("u1", first)
	assert.Equal(t, StateLoading, c.State("u1"))

	src, err := c.StartLoaded("u1", second, longPCM())
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, c.State("u1"))
	assert.True(t, c.Stop("u1"))
	assert.True(t, src.Released())
}

func TestStartRejectsBadBuffers(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	_, err := c.Start("u1", nil)
	assert.True(t, errors.Is(err, ErrEmpty))
	_, err = c.Start("u1", []byte{1})
	assert.True(t, errors.Is(err, ErrInvalidPCM))
	assert.Equal(t, 0, c.Active())
}

func TestWriteToStreamsWAV(t *testing.T) {
	c := NewContext(Options{})
	defer func() { _ = c.Close() }()

	pcm := longPCM()
	src, err := c.Start("u1", pcm)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := src.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(wavHeaderSize+len(pcm)), n)

	src.Stop()
	_, err = src.WriteTo(&buf)
	assert.True(t, errors.Is(err, ErrReleased))
}
