package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medai/consultd/internal/chat"
	"github.com/medai/consultd/internal/identity"
	"github.com/medai/consultd/internal/ingest"
)

// maxIngestMemory bounds the in-memory portion of a multipart parse;
// larger parts spill to temp files.
const maxIngestMemory = 32 << 20

// ConsultHandler handles the conversation endpoints.
type ConsultHandler struct {
	*Handler
}

// NewConsultHandler creates a new consultation handler.
func NewConsultHandler(base *Handler) *ConsultHandler {
	return &ConsultHandler{Handler: base}
}

// RegisterRoutes registers conversation routes.
func (h *ConsultHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/query", h.Query)
		r.Post("/ingest", h.Ingest)
		r.Route("/sessions/{tabID}", func(r chi.Router) {
			r.Get("/messages", h.Messages)
			r.Post("/record", h.AttachRecord)
		})
	})
}

// GetMe returns the current patient's information.
func (h *ConsultHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	if patientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	patient, err := h.repo.GetPatient(r.Context(), patientID)
	if err != nil || patient == nil {
		Error(w, http.StatusUnauthorized, "patient not found")
		return
	}

	if err := h.repo.UpdateLastSeen(r.Context(), patientID, time.Now()); err != nil {
		slog.Warn("failed to update last seen", "error", err, "patient_id", patientID)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"patient_id":   patient.PatientID,
		"display_name": patient.DisplayName,
	})
}

// Query submits one conversation turn.
func (h *ConsultHandler) Query(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())

	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chat.SendTurn(r.Context(), patientID, tabID, body.Prompt)
	if err != nil {
		writeDomainError(w, err, patientID)
		return
	}

	JSON(w, http.StatusOK, result)
}

// Ingest converts uploaded files. Voice clips become a transcript
// submitted as a turn; document images become record text attached to
// the conversation.
func (h *ConsultHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())

	if err := r.ParseMultipartForm(maxIngestMemory); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	kind := ingest.Kind(strings.TrimSpace(r.FormValue("kind")))
	if kind == "" {
		kind = ingest.KindDocument
	}

	var files []ingest.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			Error(w, http.StatusBadRequest, "unreadable file part")
			return
		}
		data, err := io.ReadAll(f)
		closeErr := f.Close()
		if err != nil || closeErr != nil {
			Error(w, http.StatusBadRequest, "unreadable file part")
			return
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}

	result, err := h.pipeline.Ingest(r.Context(), patientID, tabID, kind, files)
	if err != nil {
		writeDomainError(w, err, patientID)
		return
	}

	JSON(w, http.StatusOK, result)
}

// Messages returns the conversation history for one tab, sentinels
// included, for UI restore.
func (h *ConsultHandler) Messages(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	tabID := chi.URLParam(r, "tabID")

	messages := h.chat.History(r.Context(), patientID, tabID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// AttachRecord replaces the conversation's attached medical record with
// free text, for example pasted by the user.
func (h *ConsultHandler) AttachRecord(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	tabID := chi.URLParam(r, "tabID")

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		Error(w, http.StatusBadRequest, "record content is empty")
		return
	}

	h.chat.AttachRecord(r.Context(), patientID, tabID, body.Content)
	JSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

// writeDomainError maps the conversation error taxonomy onto HTTP
// statuses. A pending turn is a conflict; other local validation
// failures are bad requests; upstream failures surface as a bad
// gateway.
func writeDomainError(w http.ResponseWriter, err error, patientID string) {
	var verr *chat.ValidationError
	var terr *chat.TransportError
	var berr *chat.BackendError

	switch {
	case errors.Is(err, chat.ErrRequestInFlight):
		Error(w, http.StatusConflict, "request_in_flight")
	case errors.As(err, &verr):
		Error(w, http.StatusBadRequest, verr.Err.Error())
	case errors.As(err, &terr):
		slog.Error("backend unreachable", "error", err, "patient_id", patientID)
		Error(w, http.StatusBadGateway, "backend_unreachable")
	case errors.As(err, &berr):
		slog.Error("backend rejected request", "error", err, "patient_id", patientID)
		Error(w, http.StatusBadGateway, berr.Error())
	default:
		slog.Error("unhandled conversation error", "error", err, "patient_id", patientID)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
