package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ReaderHandler serves health, client configuration and identity.
type ReaderHandler struct {
	*Handler
	offline bool
	version string
}

// NewReaderHandler creates a reader handler. offline reports that AI
// capabilities are unavailable.
func NewReaderHandler(base *Handler, offline bool, version string) *ReaderHandler {
	return &ReaderHandler{Handler: base, offline: offline, version: version}
}

// RegisterHealth registers the health endpoints.
func (h *ReaderHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// RegisterRoutes registers configuration and identity routes.
func (h *ReaderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
}

// Health reports database reachability.
func (h *ReaderHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unavailable",
			"database": err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
		"version":  h.version,
	})
}

// GetMe returns the current reader's identity.
func (h *ReaderHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      user.UserID,
		"username":     user.Username,
		"created_at":   user.CreatedAt,
		"last_seen_at": user.LastSeenAt,
	})
}

// GetConfig returns what the frontend needs before the first session call.
func (h *ReaderHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"offline":         h.offline,
		"default_section": h.content.DefaultSection().ID,
		"default_persona": h.personas.Default().ID,
		"personas":        h.personas.All(),
		"onboarding":      h.content.Onboarding(),
	})
}
