// Package api provides HTTP handlers for the reader API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/identity"
	"github.com/ashureev/ngx-reader/internal/orchestrator"
	"github.com/ashureev/ngx-reader/internal/persona"
	"github.com/ashureev/ngx-reader/internal/store"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	ctrl     *orchestrator.Controller
	content  *content.Store
	personas *persona.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, ctrl *orchestrator.Controller, books *content.Store, personas *persona.Registry) *Handler {
	return &Handler{
		repo:     repo,
		ctrl:     ctrl,
		content:  books,
		personas: personas,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps controller errors to HTTP status codes. Capability failures
// never reach here: they are returned as error messages in the history.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyInput),
		errors.Is(err, orchestrator.ErrInvalidEmail):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUnknownSection),
		errors.Is(err, orchestrator.ErrUnknownPersona),
		errors.Is(err, orchestrator.ErrUnknownPreset),
		errors.Is(err, orchestrator.ErrUnknownKeyword),
		errors.Is(err, orchestrator.ErrUnknownHotspot),
		errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrOnboardingRequired),
		errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Unexpected errors are logged and
// hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed",
			"error", err,
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
		)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body")
	}
	return nil
}

// requireUser returns the caller's id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
