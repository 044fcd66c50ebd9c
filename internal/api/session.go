package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes the reader session and its operations.
type SessionHandler struct {
	*Handler
	// limit throttles the routes that call AI capabilities.
	limit func(http.Handler) http.Handler
}

// NewSessionHandler creates a session handler. limit may be nil.
func NewSessionHandler(base *Handler, limit func(http.Handler) http.Handler) *SessionHandler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &SessionHandler{Handler: base, limit: limit}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/onboarding", h.CompleteOnboarding)
		r.Post("/section", h.NavigateSection)
		r.Post("/persona", h.SwitchPersona)
		r.Post("/email", h.SubmitEmail)
		r.Post("/keyword", h.OpenKeyword)
		r.Post("/hotspot", h.OpenHotspot)
		r.Post("/insights", h.SaveInsight)
		r.Delete("/history", h.ClearMemory)

		r.Group(func(r chi.Router) {
			r.Use(h.limit)
			r.Post("/submit", h.Submit)
			r.Post("/preset", h.SubmitPreset)
			r.Post("/retry", h.Retry)
		})
	})
}

// GetSession returns the caller's session snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.Snapshot(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

type onboardingRequest struct {
	Skipped bool `json:"skipped"`
}

// CompleteOnboarding marks the walkthrough as seen.
func (h *SessionHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req onboardingRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.ctrl.CompleteOnboarding(r.Context(), userID, req.Skipped)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

type sectionRequest struct {
	SectionID string `json:"section_id"`
}

// NavigateSection changes the active section.
func (h *SessionHandler) NavigateSection(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sectionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctrl.NavigateSection(r.Context(), userID, req.SectionID); err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"active_section": req.SectionID})
}

type personaRequest struct {
	PersonaID string `json:"persona_id"`
}

// SwitchPersona activates a persona, or opens the email gate.
func (h *SessionHandler) SwitchPersona(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req personaRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.ctrl.SwitchPersona(r.Context(), userID, req.PersonaID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

type emailRequest struct {
	Email string `json:"email"`
}

// SubmitEmail passes the email gate.
func (h *SessionHandler) SubmitEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.ctrl.SubmitEmail(r.Context(), userID, req.Email)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

type submitRequest struct {
	Input string `json:"input"`
}

// Submit sends the reader's input to the active persona.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.ctrl.Submit(r.Context(), userID, req.Input)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

type presetRequest struct {
	Preset string `json:"preset"`
}

// SubmitPreset submits one of the active persona's presets.
func (h *SessionHandler) SubmitPreset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req presetRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.ctrl.SubmitPreset(r.Context(), userID, req.Preset)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Retry re-issues the request behind the trailing error message.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	out, err := h.ctrl.Retry(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

type keywordRequest struct {
	KeywordID string `json:"keyword_id"`
}

// OpenKeyword appends a knowledge card.
func (h *SessionHandler) OpenKeyword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req keywordRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := h.ctrl.OpenKeyword(r.Context(), userID, req.KeywordID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

type hotspotRequest struct {
	Model     string `json:"model"`
	HotspotID string `json:"hotspot_id"`
}

// OpenHotspot appends a card for a visualization hotspot.
func (h *SessionHandler) OpenHotspot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req hotspotRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := h.ctrl.OpenHotspot(r.Context(), userID, req.Model, req.HotspotID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

type insightRequest struct {
	Text   string `json:"text"`
	Module string `json:"module"`
}

// SaveInsight bookmarks a snippet.
func (h *SessionHandler) SaveInsight(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req insightRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := h.ctrl.SaveInsight(r.Context(), userID, req.Text, req.Module)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, in)
}

// ClearMemory resets the conversation history.
func (h *SessionHandler) ClearMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	snap, err := h.ctrl.ClearMemory(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}
