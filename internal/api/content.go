package api

import (
	"net/http"

	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/go-chi/chi/v5"
)

// ContentHandler serves the immutable book content and persona registry.
type ContentHandler struct {
	*Handler
}

// NewContentHandler creates a content handler.
func NewContentHandler(base *Handler) *ContentHandler {
	return &ContentHandler{Handler: base}
}

// RegisterRoutes registers content routes.
func (h *ContentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/content", func(r chi.Router) {
		r.Get("/sections", h.ListSections)
		r.Get("/sections/{id}", h.GetSection)
		r.Get("/search", h.Search)
		r.Get("/knowledge", h.ListKnowledge)
		r.Get("/models/{model}/hotspots", h.ListHotspots)
	})
	r.Get("/api/personas", h.ListPersonas)
}

// ListSections returns every section in reading order.
func (h *ContentHandler) ListSections(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"sections": h.content.Sections()})
}

// GetSection returns one section.
func (h *ContentHandler) GetSection(w http.ResponseWriter, r *http.Request) {
	sec, err := h.content.Section(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sec)
}

// Search returns sections matching ?q=.
func (h *ContentHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results := h.content.Search(query)
	if results == nil {
		results = []content.Section{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
	})
}

// ListKnowledge returns the knowledge database.
func (h *ContentHandler) ListKnowledge(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"cards": h.content.KnowledgeBase()})
}

// ListHotspots returns the hotspots of a visualization model.
func (h *ContentHandler) ListHotspots(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	hotspots, err := h.content.Hotspots(model)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"model":    model,
		"hotspots": hotspots,
	})
}

// ListPersonas returns the persona registry in display order.
func (h *ContentHandler) ListPersonas(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"default":  h.personas.Default().ID,
		"personas": h.personas.All(),
	})
}
