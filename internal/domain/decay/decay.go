// Package decay converts a signal's base weight and age into its current
// effective weight.
package decay

import (
	"math"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
)

// Default half-lives per signal kind. Deliberate user statements persist
// for about a year; heuristic string matches stop mattering within a week.
const (
	defaultExplicitHalfLife = 365 * 24 * time.Hour
	defaultAttendeeHalfLife = 90 * 24 * time.Hour
	defaultDomainHalfLife   = 30 * 24 * time.Hour
	defaultKeywordHalfLife  = 7 * 24 * time.Hour
	defaultFallbackHalfLife = 30 * 24 * time.Hour
)

// Effective returns the decayed weight of a signal: base * 2^(-age/halfLife).
// The result is monotonically non-increasing in age, never negative, never
// exactly zero for finite age, and exactly base/2 at one half-life.
// Non-positive ages return base unchanged; a non-positive half-life is
// treated as "no decay" rather than a division by zero.
func Effective(base float64, age, halfLife time.Duration) float64 {
	if base <= 0 {
		return 0
	}
	if age <= 0 || halfLife <= 0 {
		return base
	}
	return base * math.Exp2(-age.Seconds()/halfLife.Seconds())
}

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithHalfLife overrides the half-life for one signal kind.
func WithHalfLife(kind signal.Kind, d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.byKind[kind] = d
		}
	}
}

// WithFallback sets the half-life used for kinds without an entry.
func WithFallback(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.fallback = d
		}
	}
}

// Table maps signal kinds to decay half-lives. The well-known kinds get
// tuned defaults; unknown kinds fall back to a conservative middle value.
type Table struct {
	byKind   map[signal.Kind]time.Duration
	fallback time.Duration
}

// NewTable creates a half-life table with defaults and applies options.
func NewTable(opts ...Option) *Table {
	t := &Table{
		byKind: map[signal.Kind]time.Duration{
			signal.ExplicitLink:   defaultExplicitHalfLife,
			signal.UserCorrection: defaultExplicitHalfLife,
			signal.AttendeeVote:   defaultAttendeeHalfLife,
			signal.DomainMatch:    defaultDomainHalfLife,
			signal.KeywordMatch:   defaultKeywordHalfLife,
		},
		fallback: defaultFallbackHalfLife,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HalfLife returns the configured half-life for a signal kind.
func (t *Table) HalfLife(kind signal.Kind) time.Duration {
	if d, ok := t.byKind[kind]; ok {
		return d
	}
	return t.fallback
}

// Weight resolves a signal's decay factor at the given instant, using the
// signal's own half-life when set and the table otherwise. A fresh signal
// weighs exactly 1; the asserted confidence enters fusion through the
// log-odds term alone, so it must not scale the weight too.
func (t *Table) Weight(s signal.Signal, now time.Time) float64 {
	hl := s.HalfLife
	if hl <= 0 {
		hl = t.HalfLife(s.Kind)
	}
	return Effective(1, now.Sub(s.CreatedAt), hl)
}
