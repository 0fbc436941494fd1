// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/sibyl/internal/app"
	"github.com/okian/sibyl/internal/domain/signal"
)

// signalRequest mirrors the wire schema for POST /signals.
type signalRequest struct {
	SubjectID  string  `json:"subject_id"`
	EntityID   string  `json:"entity_id"`
	EntityKind string  `json:"entity_kind"`
	Kind       string  `json:"kind"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	ObservedAt string  `json:"observed_at,omitempty"`
}

func (s signalRequest) validate() error {
	switch {
	case strings.TrimSpace(s.SubjectID) == "":
		return errors.New("missing subject_id")
	case strings.TrimSpace(s.EntityID) == "":
		return errors.New("missing entity_id")
	case strings.TrimSpace(s.EntityKind) == "":
		return errors.New("missing entity_kind")
	case strings.TrimSpace(s.Kind) == "":
		return errors.New("missing kind")
	case strings.TrimSpace(s.Source) == "":
		return errors.New("missing source")
	}
	if s.ObservedAt != "" {
		if _, err := time.Parse(time.RFC3339, s.ObservedAt); err != nil {
			return errors.New("invalid observed_at; must be RFC3339")
		}
	}
	return nil
}

// SignalsHandler handles signal ingestion requests.
type SignalsHandler struct {
	deps Dependencies
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(deps Dependencies) *SignalsHandler {
	return &SignalsHandler{deps: deps}
}

// HandlePostSignal handles POST /signals requests.
func (h *SignalsHandler) HandlePostSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	at := time.Now()
	if req.ObservedAt != "" {
		at, _ = time.Parse(time.RFC3339, req.ObservedAt)
	}

	sig, err := signal.New(
		req.SubjectID,
		req.EntityID,
		signal.EntityKind(req.EntityKind),
		signal.Kind(req.Kind),
		signal.Source(req.Source),
		req.Confidence,
		at,
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	if err := h.deps.Ingest(r.Context(), sig); err != nil {
		if errors.Is(err, service.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "backpressure", ErrBackpressure)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: sig.ID})
}
