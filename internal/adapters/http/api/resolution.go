// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strings"
)

// ResolutionHandler handles resolution read requests.
type ResolutionHandler struct {
	deps Dependencies
}

// NewResolutionHandler creates a new resolution handler.
func NewResolutionHandler(deps Dependencies) *ResolutionHandler {
	return &ResolutionHandler{deps: deps}
}

// HandleGetResolution handles GET /resolution/{subject_id} requests.
// The response maps entity kinds to their winning resolutions; kinds with
// no candidate signals are absent. A subject with no signals at all
// resolves to an empty object, not an error.
func (h *ResolutionHandler) HandleGetResolution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/resolution/")
	if subjectID == "" || strings.Contains(subjectID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	result, err := h.deps.Resolve(r.Context(), subjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
