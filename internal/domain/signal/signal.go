// Package signal contains the observation model passed between layers.
package signal

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind is the closed set of entity categories a signal can vote for.
// A subject resolves to at most one entity per kind, independently.
type EntityKind string

const (
	KindOrganization EntityKind = "organization"
	KindWorkstream   EntityKind = "workstream"
	KindPerson       EntityKind = "person"
)

// EntityKinds lists all valid entity kinds in a stable order.
func EntityKinds() []EntityKind {
	return []EntityKind{KindOrganization, KindWorkstream, KindPerson}
}

// ValidEntityKind reports whether k is a member of the closed set.
func ValidEntityKind(k EntityKind) bool {
	switch k {
	case KindOrganization, KindWorkstream, KindPerson:
		return true
	}
	return false
}

// Kind identifies what sort of observation a signal carries. The set is
// open-ended: the well-known kinds below get tuned half-lives, and any
// other non-empty string is accepted so new producers can ship kinds
// without touching the fusion math.
type Kind string

const (
	DomainMatch    Kind = "domain-match"
	KeywordMatch   Kind = "keyword-match"
	AttendeeVote   Kind = "attendee-vote"
	ExplicitLink   Kind = "explicit-link"
	UserCorrection Kind = "user-correction"
)

// Source identifies the producer that asserted a signal. Like Kind it is an
// open set; derived signals carry a "propagation:" prefixed source so the
// propagation engine can recognize them by field inspection alone.
type Source string

const (
	SourceCalendarSync Source = "calendar-sync"
	SourceMailSync     Source = "mail-sync"
	SourceEnrichment   Source = "third-party-enrichment"
	SourceTranscript   Source = "transcript-extractor"
	SourceUser         Source = "user"
)

// derivedPrefix tags sources of signals generated by propagation.
const derivedPrefix = "propagation:"

// DerivedSource builds the source tag for a signal propagated from an
// original signal of the given kind.
func DerivedSource(k Kind) Source {
	return Source(derivedPrefix + string(k))
}

// Derived reports whether the source is a propagation tag. Signals with a
// derived source are never propagated again; this is the single-hop
// invariant.
func (s Source) Derived() bool {
	return strings.HasPrefix(string(s), derivedPrefix)
}

// Signal is one immutable, sourced, timestamped observation asserting that
// a subject relates to a candidate entity. Corrections create new signals
// of kind user-correction; existing signals are only ever superseded,
// never mutated, so the audit history stays complete.
type Signal struct {
	ID            string        `json:"id"`
	SubjectID     string        `json:"subject_id"`
	EntityID      string        `json:"entity_id"`
	EntityKind    EntityKind    `json:"entity_kind"`
	Kind          Kind          `json:"kind"`
	Source        Source        `json:"source"`
	RawConfidence float64       `json:"raw_confidence"`
	CreatedAt     time.Time     `json:"created_at"`
	HalfLife      time.Duration `json:"decay_half_life"`

	// SupersededBy holds the id of a newer signal replacing this one for
	// the same (subject, entity, source, kind). Empty for live signals.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// New builds a validated Signal with a generated id. CreatedAt defaults to
// now when zero; HalfLife may be zero and resolved later from the decay
// table.
func New(subjectID, entityID string, ek EntityKind, kind Kind, source Source, confidence float64, at time.Time) (Signal, error) {
	if at.IsZero() {
		at = time.Now()
	}
	s := Signal{
		ID:            uuid.New().String(),
		SubjectID:     subjectID,
		EntityID:      entityID,
		EntityKind:    ek,
		Kind:          kind,
		Source:        source,
		RawConfidence: confidence,
		CreatedAt:     at,
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Validate rejects malformed signals at ingestion. Out-of-range confidence
// is an error, never clamped, so producers discover their bugs quickly.
func (s Signal) Validate() error {
	switch {
	case strings.TrimSpace(s.SubjectID) == "":
		return ErrMissingSubject
	case strings.TrimSpace(s.EntityID) == "":
		return ErrMissingEntity
	case !ValidEntityKind(s.EntityKind):
		return ErrUnknownEntityKind
	case strings.TrimSpace(string(s.Kind)) == "":
		return ErrMissingKind
	case strings.TrimSpace(string(s.Source)) == "":
		return ErrMissingSource
	case s.RawConfidence < 0 || s.RawConfidence > 1:
		return ErrConfidenceRange
	}
	return nil
}

// SupersedeKey identifies the slot a signal occupies for idempotent
// re-ingestion: a newer signal with the same key supersedes the older one.
type SupersedeKey struct {
	SubjectID  string
	EntityID   string
	EntityKind EntityKind
	Kind       Kind
	Source     Source
}

// Key returns the signal's supersede slot.
func (s Signal) Key() SupersedeKey {
	return SupersedeKey{
		SubjectID:  s.SubjectID,
		EntityID:   s.EntityID,
		EntityKind: s.EntityKind,
		Kind:       s.Kind,
		Source:     s.Source,
	}
}
