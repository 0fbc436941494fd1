// Package feedback captures user corrections and routes them back into the
// reliability model.
package feedback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
)

// Correction is the permanent record of a human overriding a resolution.
// Read-only after creation. The caller supplies the id; replaying the same
// id never double-counts reliability updates.
type Correction struct {
	ID             string            `json:"id"`
	SubjectID      string            `json:"subject_id"`
	EntityKind     signal.EntityKind `json:"entity_kind"`
	OldEntityID    string            `json:"old_entity_id"`
	NewEntityID    string            `json:"new_entity_id"`
	RejectedSource signal.Source     `json:"rejected_source,omitempty"`
	CorrectedAt    time.Time         `json:"corrected_at"`
}

// Validate rejects malformed corrections before anything is written.
func (c Correction) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return ErrMissingCorrectionID
	case strings.TrimSpace(c.SubjectID) == "":
		return ErrMissingSubject
	case !signal.ValidEntityKind(c.EntityKind):
		return ErrUnknownEntityKind
	case strings.TrimSpace(c.NewEntityID) == "":
		return ErrMissingNewEntity
	}
	return nil
}

// CorrectionStore persists corrections and enforces id uniqueness.
type CorrectionStore interface {
	// Append writes a correction. Returns ErrDuplicateCorrection when the
	// id was already recorded.
	Append(ctx context.Context, c Correction) error

	// BySubject returns the subject's corrections, oldest first.
	BySubject(ctx context.Context, subjectID string) ([]Correction, error)

	// Count returns the total number of recorded corrections.
	Count(ctx context.Context) int
}

// MemLog is the in-memory CorrectionStore.
type MemLog struct {
	mu    sync.RWMutex
	byID  map[string]struct{}
	order []Correction
}

// NewMemLog creates an empty in-memory correction log.
func NewMemLog() *MemLog {
	return &MemLog{byID: make(map[string]struct{})}
}

// Append writes a correction, refusing duplicate ids.
func (l *MemLog) Append(_ context.Context, c Correction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[c.ID]; ok {
		return ErrDuplicateCorrection
	}
	l.byID[c.ID] = struct{}{}
	l.order = append(l.order, c)
	return nil
}

// BySubject returns the subject's corrections in insertion order.
func (l *MemLog) BySubject(_ context.Context, subjectID string) ([]Correction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Correction
	for _, c := range l.order {
		if c.SubjectID == subjectID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Count returns the number of recorded corrections.
func (l *MemLog) Count(_ context.Context) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
