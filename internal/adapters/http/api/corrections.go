// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/feedback"
)

// correctionRequest mirrors the wire schema for POST /corrections.
type correctionRequest struct {
	ID             string `json:"id"`
	SubjectID      string `json:"subject_id"`
	EntityKind     string `json:"entity_kind"`
	OldEntityID    string `json:"old_entity_id,omitempty"`
	NewEntityID    string `json:"new_entity_id"`
	RejectedSource string `json:"rejected_source,omitempty"`
	CorrectedAt    string `json:"corrected_at,omitempty"`
}

// CorrectionsHandler handles user correction requests.
type CorrectionsHandler struct {
	deps Dependencies
}

// NewCorrectionsHandler creates a new corrections handler.
func NewCorrectionsHandler(deps Dependencies) *CorrectionsHandler {
	return &CorrectionsHandler{deps: deps}
}

// HandlePostCorrection handles POST /corrections requests. Replaying a
// correction id returns 409 and changes nothing.
func (h *CorrectionsHandler) HandlePostCorrection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	at := time.Now()
	if req.CorrectedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CorrectedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid corrected_at; must be RFC3339"))
			return
		}
		at = parsed
	}

	c := feedback.Correction{
		ID:             req.ID,
		SubjectID:      req.SubjectID,
		EntityKind:     signal.EntityKind(req.EntityKind),
		OldEntityID:    req.OldEntityID,
		NewEntityID:    req.NewEntityID,
		RejectedSource: signal.Source(req.RejectedSource),
		CorrectedAt:    at,
	}

	if err := h.deps.RecordCorrection(r.Context(), c); err != nil {
		switch {
		case errors.Is(err, feedback.ErrDuplicateCorrection):
			writeError(w, http.StatusConflict, "duplicate", err)
		case errors.Is(err, feedback.ErrMissingCorrectionID),
			errors.Is(err, feedback.ErrMissingSubject),
			errors.Is(err, feedback.ErrUnknownEntityKind),
			errors.Is(err, feedback.ErrMissingNewEntity):
			writeError(w, http.StatusBadRequest, "bad_request", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "recorded", ID: req.ID})
}
