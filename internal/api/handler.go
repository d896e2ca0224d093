// Package api provides HTTP handlers for the consultd API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/medai/consultd/internal/chat"
	"github.com/medai/consultd/internal/ingest"
	"github.com/medai/consultd/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	chat     *chat.Service
	pipeline *ingest.Pipeline
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, chatSvc *chat.Service, pipeline *ingest.Pipeline) *Handler {
	return &Handler{
		repo:     repo,
		chat:     chatSvc,
		pipeline: pipeline,
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
