// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strings"

	"github.com/okian/sibyl/internal/domain/signal"
)

// ExplainHandler handles evidence inspection requests.
type ExplainHandler struct {
	deps Dependencies
}

// NewExplainHandler creates a new explain handler.
func NewExplainHandler(deps Dependencies) *ExplainHandler {
	return &ExplainHandler{deps: deps}
}

// HandleGetExplain handles GET /explain/{subject_id}?kind=organization
// requests. It exposes every scored contributor for the kind, winners and
// losers alike, so an operator can see why a resolution came out the way
// it did.
func (h *ExplainHandler) HandleGetExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/explain/")
	if subjectID == "" || strings.Contains(subjectID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	kind := signal.EntityKind(r.URL.Query().Get("kind"))
	if !signal.ValidEntityKind(kind) {
		writeError(w, http.StatusBadRequest, "bad_request", ErrUnknownKind)
		return
	}
	contributors, err := h.deps.Explain(r.Context(), subjectID, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, contributors)
}
