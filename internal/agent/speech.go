package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ngx-reader/internal/audio"
	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/dustin/go-humanize"
	"google.golang.org/genai"
)

// defaultEndGrace covers client-side buffering before a source counts as ended.
const defaultEndGrace = time.Second

// SpeechAdapter synthesizes narration and owns the process audio output.
type SpeechAdapter struct {
	capability
	gen   ContentGenerator
	voice string

	outputMu   sync.Mutex
	output     *audio.Context
	outputOpts audio.Options
	listener   audio.Listener
}

// NewSpeechAdapter creates a speech adapter. The audio output is created on
// first use.
func NewSpeechAdapter(gen ContentGenerator, cfg Config, m *metrics.Metrics, log ConversationLogger) *SpeechAdapter {
	return &SpeechAdapter{
		capability: newCapability(domain.CapabilitySpeech, cfg.SpeechModel, cfg.RequestTimeout, m, log),
		gen:        gen,
		voice:      cfg.SpeechVoice,
		outputOpts: audio.Options{
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			EndGrace:   defaultEndGrace,
			Metrics:    m,
		},
	}
}

// Output returns the process-wide audio context, creating it on first call.
func (a *SpeechAdapter) Output() *audio.Context {
	a.outputMu.Lock()
	defer a.outputMu.Unlock()
	if a.output == nil {
		a.output = audio.NewContext(a.outputOpts)
		a.output.SetListener(a.listener)
	}
	return a.output
}

// SetPlaybackListener observes playback state changes. It does not create
// the audio output.
func (a *SpeechAdapter) SetPlaybackListener(l audio.Listener) {
	a.outputMu.Lock()
	defer a.outputMu.Unlock()
	a.listener = l
	if a.output != nil {
		a.output.SetListener(l)
	}
}

// Play synthesizes text and starts it on the audio output, replacing any
// source the user already holds. Playback state is loading for the duration
// of the synthesis. If the user stops while the audio is loading, Play
// returns a nil source and no error, and nothing plays.
func (a *SpeechAdapter) Play(ctx context.Context, req SpeechRequest) (*audio.Source, error) {
	out := a.Output()

	var src *audio.Source
	err := a.do(ctx, req.UserID, func(ctx context.Context) error {
		token, err := out.BeginLoading(req.UserID)
		if err != nil {
			return err
		}

		result, err := a.synthesize(ctx, req)
		if err != nil {
			out.EndLoading(req.UserID, token)
			return err
		}

		src, err = out.StartLoaded(req.UserID, token, result.PCM)
		if errors.Is(err, audio.ErrCancelled) {
			slog.Debug("Narration stopped before playback", "user_id", req.UserID)
			return nil
		}
		if err != nil {
			out.EndLoading(req.UserID, token)
			return fmt.Errorf("start playback: %w", err)
		}
		return nil
	}, func(error) string { return SpeechFailureMessage })
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Stop releases the user's playing source.
func (a *SpeechAdapter) Stop(userID string) bool {
	return a.Output().Stop(userID)
}

// PlaybackState returns idle, loading or playing for userID.
func (a *SpeechAdapter) PlaybackState(userID string) audio.State {
	return a.Output().State(userID)
}

// Close tears down the audio output if it was ever created.
func (a *SpeechAdapter) Close() error {
	a.outputMu.Lock()
	out := a.output
	a.outputMu.Unlock()
	if out == nil {
		return nil
	}
	return out.Close()
}

func (a *SpeechAdapter) synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	a.logEvent(req.UserID, req.SessionID, "outbound", "speech_request", req.Text, map[string]any{
		"model": a.model,
		"voice": a.voice,
	})

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: a.voice},
			},
		},
	}

	resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(req.Text), config)
	if err != nil {
		return nil, err
	}

	pcm := firstInlineData(resp)
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}

	a.logEvent(req.UserID, req.SessionID, "inbound", "speech_synthesized", "", map[string]any{
		"size":     humanize.Bytes(uint64(len(pcm))),
		"duration": audio.Duration(len(pcm), audio.SampleRate, audio.Channels).String(),
	})
	return &SpeechResult{PCM: pcm, SampleRate: audio.SampleRate, Channels: audio.Channels}, nil
}

func firstInlineData(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}
