// Package resolve orchestrates signal producers into per-kind entity
// choices: decay, reliability sampling, fusion, selection, policy.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/sibyl/internal/domain/decay"
	"github.com/okian/sibyl/internal/domain/fusion"
	"github.com/okian/sibyl/internal/domain/policy"
	"github.com/okian/sibyl/internal/domain/reliability"
	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/pkg/metrics"
)

// SignalSource reads a consistent snapshot of a subject's live signals.
type SignalSource interface {
	BySubject(ctx context.Context, subjectID string) ([]signal.Signal, error)
}

// Sampler draws a reliability estimate for a triple.
type Sampler interface {
	Sample(ctx context.Context, t reliability.Triple) (float64, error)
}

// Contributor is one signal's audited share of a fused confidence.
type Contributor struct {
	SignalID           string        `json:"signal_id"`
	EntityID           string        `json:"entity_id"`
	Source             signal.Source `json:"source"`
	Kind               signal.Kind   `json:"kind"`
	RawConfidence      float64       `json:"raw_confidence"`
	DecayedWeight      float64       `json:"decayed_weight"`
	SampledReliability float64       `json:"sampled_reliability"`
	LogOdds            float64       `json:"log_odds"`
}

// Resolution is the chosen entity for one kind, with the evidence trail.
type Resolution struct {
	SubjectID    string            `json:"subject_id"`
	EntityKind   signal.EntityKind `json:"entity_kind"`
	EntityID     string            `json:"entity_id"`
	Confidence   float64           `json:"confidence"`
	Action       policy.Action     `json:"action"`
	Contributors []Contributor     `json:"contributors"`
	ResolvedAt   time.Time         `json:"resolved_at"`
}

// SignalIDs returns the contributing signal ids, for explainability.
func (r Resolution) SignalIDs() []string {
	ids := make([]string, len(r.Contributors))
	for i, c := range r.Contributors {
		ids[i] = c.SignalID
	}
	return ids
}

// Result maps entity kinds to their independent winners. A subject may
// resolve to an organization AND a workstream AND a person at once; kinds
// with no candidate signals are simply absent.
type Result map[signal.EntityKind]Resolution

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithClock fixes the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Resolver runs the cascade. The statistical steps are pure and
// synchronous; the only suspension points are the store and sampler reads.
type Resolver struct {
	signals SignalSource
	sampler Sampler
	table   *decay.Table
	gate    *policy.Gate
	clock   func() time.Time
}

// New creates a Resolver.
func New(signals SignalSource, sampler Sampler, table *decay.Table, gate *policy.Gate, opts ...Option) *Resolver {
	r := &Resolver{
		signals: signals,
		sampler: sampler,
		table:   table,
		gate:    gate,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidate accumulates a (subject, entity, kind) tuple's signals during
// one pass. Transient: never persisted.
type candidate struct {
	entityID string
	signals  []signal.Signal
	latest   time.Time

	confidence   float64
	contributors []Contributor
}

func (c *candidate) explicit() bool {
	for _, s := range c.signals {
		if s.Kind == signal.ExplicitLink || s.Kind == signal.UserCorrection {
			return true
		}
	}
	return false
}

// Resolve computes one Resolution per entity kind for the subject. The
// signal set is read once up front, so concurrent ingestion for the same
// subject never produces a mixed-state resolution.
func (r *Resolver) Resolve(ctx context.Context, subjectID string) (Result, error) {
	start := r.clock()
	defer func() {
		metrics.RecordResolveLatency(float64(time.Since(start).Milliseconds()))
	}()

	sigs, err := r.signals.BySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot signals for %s: %w", subjectID, err)
	}

	grouped := groupByKind(sigs)
	result := make(Result, len(grouped))
	for _, kind := range signal.EntityKinds() {
		cands := grouped[kind]
		if len(cands) == 0 {
			continue
		}
		winner, err := r.selectWinner(ctx, cands, start)
		if err != nil {
			return nil, err
		}
		res := Resolution{
			SubjectID:    subjectID,
			EntityKind:   kind,
			EntityID:     winner.entityID,
			Confidence:   winner.confidence,
			Action:       r.gate.Decide(winner.confidence),
			Contributors: winner.contributors,
			ResolvedAt:   start,
		}
		metrics.RecordResolution(string(res.Action))
		result[kind] = res
	}
	return result, nil
}

// Explain returns the audit rows for every candidate of one kind, winners
// and losers alike. Candidates are ordered by entity id so the trail is
// stable across calls.
func (r *Resolver) Explain(ctx context.Context, subjectID string, kind signal.EntityKind) ([]Contributor, error) {
	if !signal.ValidEntityKind(kind) {
		return nil, signal.ErrUnknownEntityKind
	}
	sigs, err := r.signals.BySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot signals for %s: %w", subjectID, err)
	}
	cands := groupByKind(sigs)[kind]
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].entityID < cands[j].entityID
	})

	now := r.clock()
	var rows []Contributor
	for _, cand := range cands {
		if err := r.score(ctx, cand, now); err != nil {
			return nil, err
		}
		rows = append(rows, cand.contributors...)
	}
	return rows, nil
}

// selectWinner scores candidates and picks the best-supported one.
//
// Explicit candidates go first: when a deliberate user link alone clears
// the auto-link band there is no point paying for reliability draws on the
// heuristic candidates, so scoring short-circuits. Fusion itself is order
// independent; the ordering only bounds cost.
func (r *Resolver) selectWinner(ctx context.Context, cands []*candidate, now time.Time) (*candidate, error) {
	sort.Slice(cands, func(i, j int) bool {
		ei, ej := cands[i].explicit(), cands[j].explicit()
		if ei != ej {
			return ei
		}
		return cands[i].entityID < cands[j].entityID
	})

	var best *candidate
	for i, cand := range cands {
		if err := r.score(ctx, cand, now); err != nil {
			return nil, err
		}
		if best == nil || better(cand, best) {
			best = cand
		}
		if i == 0 && cand.explicit() && cand.confidence >= r.gate.AutoLinkThreshold() {
			metrics.RecordCascadeShortCircuit()
			break
		}
	}
	return best, nil
}

// score fuses one candidate's signals into a confidence.
func (r *Resolver) score(ctx context.Context, cand *candidate, now time.Time) error {
	inputs := make([]fusion.Input, 0, len(cand.signals))
	contributors := make([]Contributor, 0, len(cand.signals))
	for _, s := range cand.signals {
		rel, err := r.sampler.Sample(ctx, reliability.TripleOf(s))
		if err != nil {
			return fmt.Errorf("sample reliability for %s: %w", s.ID, err)
		}
		decayed := r.table.Weight(s, now)
		in := fusion.Input{Confidence: s.RawConfidence, Weight: decayed * rel}
		inputs = append(inputs, in)
		contributors = append(contributors, Contributor{
			SignalID:           s.ID,
			EntityID:           cand.entityID,
			Source:             s.Source,
			Kind:               s.Kind,
			RawConfidence:      s.RawConfidence,
			DecayedWeight:      decayed,
			SampledReliability: rel,
			LogOdds:            in.LogOdds(),
		})
	}
	cand.confidence = fusion.Fuse(inputs)
	cand.contributors = contributors
	metrics.RecordFusion(len(inputs))
	return nil
}

// better orders candidates: higher confidence, then most recent signal,
// then lexically smaller entity id for determinism.
func better(a, b *candidate) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if !a.latest.Equal(b.latest) {
		return a.latest.After(b.latest)
	}
	return a.entityID < b.entityID
}

// groupByKind buckets live signals into per-kind candidate lists.
func groupByKind(sigs []signal.Signal) map[signal.EntityKind][]*candidate {
	byKind := make(map[signal.EntityKind]map[string]*candidate)
	for _, s := range sigs {
		kindGroup, ok := byKind[s.EntityKind]
		if !ok {
			kindGroup = make(map[string]*candidate)
			byKind[s.EntityKind] = kindGroup
		}
		cand, ok := kindGroup[s.EntityID]
		if !ok {
			cand = &candidate{entityID: s.EntityID}
			kindGroup[s.EntityID] = cand
		}
		cand.signals = append(cand.signals, s)
		if s.CreatedAt.After(cand.latest) {
			cand.latest = s.CreatedAt
		}
	}
	out := make(map[signal.EntityKind][]*candidate, len(byKind))
	for kind, group := range byKind {
		cands := make([]*candidate, 0, len(group))
		for _, cand := range group {
			cands = append(cands, cand)
		}
		out[kind] = cands
	}
	return out
}
