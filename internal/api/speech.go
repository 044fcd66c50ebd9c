package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/ngx-reader/internal/audio"
	"github.com/go-chi/chi/v5"
)

// SourceFinder resolves playing audio sources by id.
type SourceFinder interface {
	Source(id string) (*audio.Source, bool)
}

// SpeechHandler drives narration and streams its audio.
type SpeechHandler struct {
	*Handler
	sources SourceFinder
	limit   func(http.Handler) http.Handler
}

// NewSpeechHandler creates a speech handler. sources is nil in offline mode.
func NewSpeechHandler(base *Handler, sources SourceFinder, limit func(http.Handler) http.Handler) *SpeechHandler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &SpeechHandler{Handler: base, sources: sources, limit: limit}
}

// RegisterRoutes registers speech routes.
func (h *SpeechHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/speech", func(r chi.Router) {
		r.With(h.limit).Post("/play", h.Play)
		r.Post("/stop", h.Stop)
		r.Get("/stream/{id}", h.Stream)
	})
}

// Play narrates a section; an empty section id narrates the active one.
func (h *SpeechHandler) Play(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sectionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.ctrl.Narrate(r.Context(), userID, req.SectionID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Stop ends the caller's narration.
func (h *SpeechHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stopped, err := h.ctrl.StopNarration(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// Stream writes a playing source as WAV. Only the source's owner may read it.
func (h *SpeechHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.sources == nil {
		Error(w, http.StatusServiceUnavailable, "ai service not configured")
		return
	}
	src, found := h.sources.Source(chi.URLParam(r, "id"))
	if !found || src.Owner != userID {
		Error(w, http.StatusNotFound, "audio source not found")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(src.Size()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := src.WriteTo(w); err != nil {
		if errors.Is(err, audio.ErrReleased) {
			slog.Debug("Audio stream interrupted", "user_id", userID, "source_id", src.ID)
			return
		}
		slog.Debug("Audio stream write failed", "user_id", userID, "source_id", src.ID, "error", err)
	}
}
