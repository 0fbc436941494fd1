// Package reliability learns per-producer trust from accept/reject feedback.
//
// Each (source, entity kind, signal kind) triple keeps a Beta posterior:
// alpha counts acceptances plus one, beta counts rejections plus one. The
// uninformative (1,1) prior means a brand-new producer samples near 0.5;
// the system stays unconfident until it has been corrected or confirmed a
// few times. User-source triples are the exception and start from a
// confident prior, see PriorFor. The pair reads as "alpha-1 successes out of
// alpha+beta-2 attempts", which is cheap to display and audit.
package reliability

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/sibyl/internal/domain/signal"
)

// Triple keys a learned reliability weight.
type Triple struct {
	Source     signal.Source
	EntityKind signal.EntityKind
	Kind       signal.Kind
}

// TripleOf extracts the reliability key from a signal.
func TripleOf(s signal.Signal) Triple {
	return Triple{Source: s.Source, EntityKind: s.EntityKind, Kind: s.Kind}
}

// Weight is the Beta posterior for one triple. Alpha and Beta never drop
// below 1; they move only through RecordOutcome.
type Weight struct {
	Alpha     float64   `json:"alpha"`
	Beta      float64   `json:"beta"`
	Updates   int64     `json:"updates"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWeight returns the neutral cold-start posterior.
func NewWeight() Weight {
	return Weight{Alpha: 1, Beta: 1}
}

// User-source triples start trusted instead of neutral. A deliberate human
// assertion must not lose an auto-link to cold-start sampling noise, and a
// Beta(99,1) prior puts the first draw above 0.9 with overwhelming odds
// while still letting repeated corrections pull the posterior down.
const (
	userPriorAlpha = 99
	userPriorBeta  = 1
)

// PriorFor returns the cold-start posterior for a triple.
func PriorFor(t Triple) Weight {
	if t.Source == signal.SourceUser {
		return Weight{Alpha: userPriorAlpha, Beta: userPriorBeta}
	}
	return NewWeight()
}

// Mean is the posterior point estimate alpha/(alpha+beta).
func (w Weight) Mean() float64 {
	if w.Alpha+w.Beta == 0 {
		return 0.5
	}
	return w.Alpha / (w.Alpha + w.Beta)
}

// Store persists reliability weights with atomic per-triple updates.
type Store interface {
	// Get returns the current posterior for a triple, creating the triple's
	// cold-start prior lazily on first encounter.
	Get(ctx context.Context, t Triple) (Weight, error)

	// Update applies one accept/reject outcome under a per-triple lock and
	// returns the new posterior.
	Update(ctx context.Context, t Triple, accepted bool) (Weight, error)

	// Sweep drops triples not updated since the cutoff and returns how many
	// were removed. Used by background maintenance only.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of tracked triples.
	Count(ctx context.Context) int
}

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithSeed fixes the sampling source, for deterministic tests.
func WithSeed(seed uint64) Option {
	return func(m *Model) {
		m.src = rand.NewSource(seed)
	}
}

// Model samples trust estimates from stored posteriors.
type Model struct {
	store Store

	// distuv sources are not safe for concurrent draws.
	mu  sync.Mutex
	src rand.Source
}

// NewModel creates a Model over the given store.
func NewModel(store Store, opts ...Option) *Model {
	m := &Model{
		store: store,
		src:   rand.NewSource(uint64(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sample draws a reliability estimate in [0,1] from the triple's current
// Beta posterior. Store failures propagate to the caller: silently falling
// back to an unweighted estimate would violate the confidence contract.
func (m *Model) Sample(ctx context.Context, t Triple) (float64, error) {
	w, err := m.store.Get(ctx, t)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dist := distuv.Beta{Alpha: w.Alpha, Beta: w.Beta, Src: m.src}
	return dist.Rand(), nil
}

// Mean returns the deterministic posterior mean for a triple. The feedback
// recorder uses this instead of Sample so materiality decisions are
// reproducible.
func (m *Model) Mean(ctx context.Context, t Triple) (float64, error) {
	w, err := m.store.Get(ctx, t)
	if err != nil {
		return 0, err
	}
	return w.Mean(), nil
}

// RecordOutcome feeds one accept/reject observation into the posterior.
func (m *Model) RecordOutcome(ctx context.Context, t Triple, accepted bool) error {
	_, err := m.store.Update(ctx, t, accepted)
	return err
}

// entry pairs a weight with its own lock so concurrent corrections
// touching different triples never contend.
type entry struct {
	mu sync.Mutex
	w  Weight
}

// MemStore is the in-memory Store used by default and in tests.
type MemStore struct {
	mu      sync.RWMutex
	entries map[Triple]*entry
}

// NewMemStore creates an empty in-memory reliability store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[Triple]*entry)}
}

func (s *MemStore) lookup(t Triple) *entry {
	s.mu.RLock()
	e, ok := s.entries[t]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[t]; ok {
		return e
	}
	e = &entry{w: PriorFor(t)}
	s.entries[t] = e
	return e
}

// Get returns the posterior for a triple, creating it lazily.
func (s *MemStore) Get(_ context.Context, t Triple) (Weight, error) {
	e := s.lookup(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w, nil
}

// Update applies one outcome atomically for the triple.
func (s *MemStore) Update(_ context.Context, t Triple, accepted bool) (Weight, error) {
	e := s.lookup(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	if accepted {
		e.w.Alpha++
	} else {
		e.w.Beta++
	}
	e.w.Updates++
	e.w.UpdatedAt = time.Now()
	return e.w, nil
}

// Sweep drops triples whose last update predates the cutoff. Triples that
// never received feedback carry a zero UpdatedAt and are kept: dropping
// the neutral prior would be a no-op on the next encounter anyway.
func (s *MemStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for t, e := range s.entries {
		e.mu.Lock()
		stale := !e.w.UpdatedAt.IsZero() && e.w.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.entries, t)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of tracked triples.
func (s *MemStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
