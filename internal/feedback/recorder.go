package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/sibyl/internal/domain/decay"
	"github.com/okian/sibyl/internal/domain/fusion"
	"github.com/okian/sibyl/internal/domain/reliability"
	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/pkg/metrics"
)

// defaultMateriality is the minimum share of a rejected candidate's total
// log-odds a signal must have contributed before its triple is penalized.
// Keeps a trace signal that barely nudged the fusion from eating a failure.
const defaultMateriality = 0.10

// SignalSource reads a subject's live signals.
type SignalSource interface {
	BySubject(ctx context.Context, subjectID string) ([]signal.Signal, error)
}

// SignalSink appends the user-correction signal that a correction creates.
type SignalSink interface {
	Append(ctx context.Context, s signal.Signal) (string, error)
}

// OutcomeModel is the slice of the reliability model the recorder needs.
// Mean (not Sample) keeps materiality decisions reproducible.
type OutcomeModel interface {
	Mean(ctx context.Context, t reliability.Triple) (float64, error)
	RecordOutcome(ctx context.Context, t reliability.Triple, accepted bool) error
}

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithMateriality overrides the contribution share below which a rejected
// candidate's signals escape a reliability penalty.
func WithMateriality(share float64) Option {
	return func(r *Recorder) {
		if share > 0 && share <= 1 {
			r.materiality = share
		}
	}
}

// WithInvalidator registers a hook invalidating cached resolutions for a
// subject after a correction lands.
func WithInvalidator(fn func(subjectID string)) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.invalidate = fn
		}
	}
}

// WithClock fixes the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Recorder turns corrections into reliability outcomes and fresh signals.
type Recorder struct {
	signals     SignalSource
	sink        SignalSink
	corrections CorrectionStore
	model       OutcomeModel
	table       *decay.Table

	materiality float64
	invalidate  func(subjectID string)
	clock       func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(signals SignalSource, sink SignalSink, corrections CorrectionStore, model OutcomeModel, table *decay.Table, opts ...Option) *Recorder {
	r := &Recorder{
		signals:     signals,
		sink:        sink,
		corrections: corrections,
		model:       model,
		table:       table,
		materiality: defaultMateriality,
		invalidate:  func(string) {},
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record processes one correction.
//
// Order matters: the permanent CorrectionRecord is written first, so a
// transient reliability-store failure never loses the correction itself.
// Replays of the same correction id stop at the store's uniqueness check
// and update nothing. After the record lands the recorder penalizes the
// triples that materially backed the rejected candidate, credits the
// triples backing the corrected one, appends a user-correction signal for
// the new entity, and invalidates the subject's cached resolution.
func (r *Recorder) Record(ctx context.Context, c Correction) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CorrectedAt.IsZero() {
		c.CorrectedAt = r.clock()
	}

	if err := r.corrections.Append(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCorrection) {
			metrics.RecordCorrectionDuplicate()
		}
		return err
	}
	metrics.RecordCorrection()

	sigs, err := r.signals.BySubject(ctx, c.SubjectID)
	if err != nil {
		return fmt.Errorf("load signals for correction %s: %w", c.ID, err)
	}

	var updateErrs []error
	now := r.clock()

	// Penalize material contributors of the rejected candidate.
	if c.OldEntityID != "" && c.OldEntityID != c.NewEntityID {
		rejected := filter(sigs, c.EntityKind, c.OldEntityID)
		shares, err := r.contributionShares(ctx, rejected, now)
		if err != nil {
			updateErrs = append(updateErrs, err)
		}
		for i, s := range rejected {
			if shares == nil || shares[i] < r.materiality {
				continue
			}
			if err := r.model.RecordOutcome(ctx, reliability.TripleOf(s), false); err != nil {
				updateErrs = append(updateErrs, fmt.Errorf("reject outcome for %s: %w", s.ID, err))
			}
			metrics.RecordReliabilityUpdate()
		}
	}

	// Credit everything backing the corrected entity.
	for _, s := range filter(sigs, c.EntityKind, c.NewEntityID) {
		if err := r.model.RecordOutcome(ctx, reliability.TripleOf(s), true); err != nil {
			updateErrs = append(updateErrs, fmt.Errorf("accept outcome for %s: %w", s.ID, err))
		}
		metrics.RecordReliabilityUpdate()
	}

	// The correction itself becomes a signal; old signals stay untouched.
	corrSig, err := signal.New(c.SubjectID, c.NewEntityID, c.EntityKind, signal.UserCorrection, signal.SourceUser, 1.0, c.CorrectedAt)
	if err != nil {
		updateErrs = append(updateErrs, err)
	} else if _, err := r.sink.Append(ctx, corrSig); err != nil {
		updateErrs = append(updateErrs, fmt.Errorf("append correction signal: %w", err))
	}

	r.invalidate(c.SubjectID)
	return errors.Join(updateErrs...)
}

// contributionShares returns each signal's share of the candidate's total
// absolute log-odds, using decayed weight times posterior mean.
func (r *Recorder) contributionShares(ctx context.Context, sigs []signal.Signal, now time.Time) ([]float64, error) {
	if len(sigs) == 0 {
		return nil, nil
	}
	contribs := make([]float64, len(sigs))
	total := 0.0
	for i, s := range sigs {
		mean, err := r.model.Mean(ctx, reliability.TripleOf(s))
		if err != nil {
			return nil, fmt.Errorf("posterior mean for %s: %w", s.ID, err)
		}
		w := r.table.Weight(s, now) * mean
		c := math.Abs(fusion.Input{Confidence: s.RawConfidence, Weight: w}.LogOdds())
		contribs[i] = c
		total += c
	}
	if total == 0 {
		return make([]float64, len(sigs)), nil
	}
	for i := range contribs {
		contribs[i] /= total
	}
	return contribs, nil
}

func filter(sigs []signal.Signal, kind signal.EntityKind, entityID string) []signal.Signal {
	var out []signal.Signal
	for _, s := range sigs {
		if s.EntityKind == kind && s.EntityID == entityID {
			out = append(out, s)
		}
	}
	return out
}
