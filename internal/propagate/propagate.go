// Package propagate derives attenuated signals on graph-connected
// entities from a strongly resolved original.
package propagate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/pkg/metrics"
)

// EdgeType labels the relationship between two entities. Types differ in
// how diagnostic they are, expressed as weight multipliers.
type EdgeType string

const (
	EdgeDecisionAuthority EdgeType = "decision-authority"
	EdgeBlocker           EdgeType = "blocker"
	EdgeParent            EdgeType = "parent"
	EdgeMember            EdgeType = "member"
	EdgeCollaborates      EdgeType = "collaborates"
	EdgeLooseCollaborates EdgeType = "loosely-collaborates"
)

// Default propagation knobs. All of them are configuration surfaces; the
// multipliers in particular are tuned empirically, not derived.
const (
	defaultThreshold   = 0.65
	defaultAttenuation = 0.4
	defaultMaxFanout   = 32
)

func defaultMultipliers() map[EdgeType]float64 {
	return map[EdgeType]float64{
		EdgeDecisionAuthority: 1.2,
		EdgeBlocker:           1.2,
		EdgeParent:            1.0,
		EdgeMember:            1.0,
		EdgeCollaborates:      0.8,
		EdgeLooseCollaborates: 0.5,
	}
}

func defaultFloors() map[EdgeType]float64 {
	// Weak edges only propagate from very strong resolutions.
	return map[EdgeType]float64{
		EdgeLooseCollaborates: 0.8,
	}
}

// Edge is one directed neighbor relation in the entity graph.
type Edge struct {
	To     string
	ToKind signal.EntityKind
	Type   EdgeType
}

// Graph looks up an entity's neighbors. The broader entity/relationship
// store provides this; the engine never traverses beyond one hop.
type Graph interface {
	Neighbors(ctx context.Context, entityID string) ([]Edge, error)
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithThreshold sets the fused confidence below which nothing propagates.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// WithAttenuation sets the base weight reduction for derived signals.
func WithAttenuation(a float64) Option {
	return func(e *Engine) {
		if a > 0 && a <= 1 {
			e.attenuation = a
		}
	}
}

// WithMultiplier overrides the weight multiplier for an edge type.
func WithMultiplier(t EdgeType, m float64) Option {
	return func(e *Engine) {
		if m > 0 {
			e.multipliers[t] = m
		}
	}
}

// WithConfidenceFloor excludes an edge type unless the originating fused
// confidence reaches the floor.
func WithConfidenceFloor(t EdgeType, f float64) Option {
	return func(e *Engine) {
		if f > 0 && f <= 1 {
			e.floors[t] = f
		}
	}
}

// WithMaxFanout caps derived signals per ingestion batch. Excess neighbors
// are dropped and counted, never an error.
func WithMaxFanout(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFanout = n
		}
	}
}

// Engine derives one-hop signals. Loop prevention is a field inspection,
// not a traversal: derived signals carry a propagation-tagged source, and
// the engine refuses to propagate from any signal so tagged.
type Engine struct {
	graph Graph

	threshold   float64
	attenuation float64
	multipliers map[EdgeType]float64
	floors      map[EdgeType]float64
	maxFanout   int

	mu   sync.Mutex
	used int // fan-outs consumed in the current batch
}

// New creates a propagation Engine over the given graph.
func New(graph Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:       graph,
		threshold:   defaultThreshold,
		attenuation: defaultAttenuation,
		multipliers: defaultMultipliers(),
		floors:      defaultFloors(),
		maxFanout:   defaultMaxFanout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResetBudget opens a new ingestion batch. The worker pool calls this once
// per drained batch so a single highly connected entity cannot monopolize
// processing even with loop prevention in place.
func (e *Engine) ResetBudget() {
	e.mu.Lock()
	e.used = 0
	e.mu.Unlock()
}

// take consumes one unit of fan-out budget, reporting false when spent.
func (e *Engine) take() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used >= e.maxFanout {
		return false
	}
	e.used++
	return true
}

// Derive produces the one-hop signals for an origin signal whose subject
// resolved to the origin entity at the given fused confidence. Returns nil
// when nothing should propagate: weak confidence, a derived origin, or no
// neighbors.
func (e *Engine) Derive(ctx context.Context, origin signal.Signal, fused float64) ([]signal.Signal, error) {
	if origin.Source.Derived() {
		// Second hop. Never.
		return nil, nil
	}
	if fused < e.threshold {
		return nil, nil
	}

	edges, err := e.graph.Neighbors(ctx, origin.EntityID)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", origin.EntityID, err)
	}

	var out []signal.Signal
	now := time.Now()
	for _, edge := range edges {
		if floor, ok := e.floors[edge.Type]; ok && fused < floor {
			continue
		}
		mult, ok := e.multipliers[edge.Type]
		if !ok {
			mult = 1.0
		}
		conf := origin.RawConfidence * e.attenuation * mult
		if conf <= 0 {
			continue
		}
		if conf > 1 {
			conf = 1
		}
		if !e.take() {
			metrics.RecordPropagationDropped()
			continue
		}
		derived, err := signal.New(origin.SubjectID, edge.To, edge.ToKind, origin.Kind,
			signal.DerivedSource(origin.Kind), conf, now)
		if err != nil {
			return nil, fmt.Errorf("derive signal for %s: %w", edge.To, err)
		}
		metrics.RecordPropagationDerived()
		out = append(out, derived)
	}
	return out, nil
}

// MemGraph is a MemStore-style in-memory Graph for tests and single-node
// deployments that feed the edge set at startup.
type MemGraph struct {
	mu    sync.RWMutex
	edges map[string][]Edge
}

// NewMemGraph creates an empty in-memory graph.
func NewMemGraph() *MemGraph {
	return &MemGraph{edges: make(map[string][]Edge)}
}

// Link adds a directed edge.
func (g *MemGraph) Link(from string, edge Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = append(g.edges[from], edge)
}

// Neighbors returns a copy of the entity's outgoing edges.
func (g *MemGraph) Neighbors(_ context.Context, entityID string) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.edges[entityID]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out, nil
}
