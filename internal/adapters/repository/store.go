// Package repository defines the append-only signal store and its
// implementations.
package repository

import (
	"context"

	"github.com/okian/sibyl/internal/domain/signal"
)

// Store provides append and snapshot-read access to the signal log.
//
// Signals are immutable once appended. Re-ingesting a signal for an
// occupied supersede slot marks the older signal superseded instead of
// duplicating it; superseded signals stay in the log for audit but are
// excluded from BySubject reads.
type Store interface {
	// Append adds a signal, superseding any live signal occupying the same
	// (subject, entity, kind, source) slot. Returns the id of the
	// superseded signal, or "" when the slot was empty.
	Append(ctx context.Context, s signal.Signal) (string, error)

	// BySubject returns a consistent snapshot of the subject's live
	// signals. The slice is a copy: concurrent appends never mutate a
	// resolution pass mid-flight.
	BySubject(ctx context.Context, subjectID string) ([]signal.Signal, error)

	// Get returns a signal by id, superseded or not.
	// Returns ErrSignalNotFound for unknown ids.
	Get(ctx context.Context, id string) (signal.Signal, error)

	// Subjects lists all subject ids with at least one signal.
	Subjects(ctx context.Context) ([]string, error)

	// Count returns the number of live signals across all subjects.
	Count(ctx context.Context) int
}
