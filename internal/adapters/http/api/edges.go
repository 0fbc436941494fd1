// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/propagate"
)

// edgeRequest mirrors the wire schema for POST /edges.
type edgeRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	ToKind string `json:"to_kind"`
	Type   string `json:"type"`
}

func (e edgeRequest) validate() error {
	switch {
	case strings.TrimSpace(e.From) == "":
		return errors.New("missing from")
	case strings.TrimSpace(e.To) == "":
		return errors.New("missing to")
	case !signal.ValidEntityKind(signal.EntityKind(e.ToKind)):
		return ErrUnknownKind
	case strings.TrimSpace(e.Type) == "":
		return errors.New("missing type")
	}
	return nil
}

// EdgesHandler handles relationship graph requests.
type EdgesHandler struct {
	deps Dependencies
}

// NewEdgesHandler creates a new edges handler.
func NewEdgesHandler(deps Dependencies) *EdgesHandler {
	return &EdgesHandler{deps: deps}
}

// HandlePostEdge handles POST /edges requests, adding a directed
// relationship edge that propagation follows.
func (h *EdgesHandler) HandlePostEdge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req edgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := h.deps.LinkEntities(req.From, req.To, signal.EntityKind(req.ToKind), propagate.EdgeType(req.Type)); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "linked"})
}
