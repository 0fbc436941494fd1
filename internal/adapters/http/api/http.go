// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/feedback"
	"github.com/okian/sibyl/internal/propagate"
	"github.com/okian/sibyl/internal/resolve"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingest validates a signal and submits it for async processing.
	Ingest(ctx context.Context, s signal.Signal) error

	// Resolve returns the subject's current per-kind resolutions.
	Resolve(ctx context.Context, subjectID string) (resolve.Result, error)

	// Explain returns the scored evidence for one kind's candidates.
	Explain(ctx context.Context, subjectID string, kind signal.EntityKind) ([]resolve.Contributor, error)

	// RecordCorrection applies a user correction.
	RecordCorrection(ctx context.Context, c feedback.Correction) error

	// LinkEntities adds a relationship edge for propagation.
	LinkEntities(from, to string, toKind signal.EntityKind, edgeType propagate.EdgeType) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	metricsHandler     *MetricsHandler
	statsHandler       *StatsHandler
	signalsHandler     *SignalsHandler
	resolutionHandler  *ResolutionHandler
	explainHandler     *ExplainHandler
	correctionsHandler *CorrectionsHandler
	edgesHandler       *EdgesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		metricsHandler:     NewMetricsHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		signalsHandler:     NewSignalsHandler(deps),
		resolutionHandler:  NewResolutionHandler(deps),
		explainHandler:     NewExplainHandler(deps),
		correctionsHandler: NewCorrectionsHandler(deps),
		edgesHandler:       NewEdgesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.metricsHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/signals", MetricsMiddleware(s.signalsHandler.HandlePostSignal, "signals"))
	mux.HandleFunc("/resolution/", MetricsMiddleware(s.resolutionHandler.HandleGetResolution, "resolution"))
	mux.HandleFunc("/explain/", MetricsMiddleware(s.explainHandler.HandleGetExplain, "explain"))
	mux.HandleFunc("/corrections", MetricsMiddleware(s.correctionsHandler.HandlePostCorrection, "corrections"))
	mux.HandleFunc("/edges", MetricsMiddleware(s.edgesHandler.HandlePostEdge, "edges"))
}

type ackResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
