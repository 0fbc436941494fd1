package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/okian/sibyl/internal/domain/reliability"
	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/feedback"
)

// schema persists the three durable record types. created_at and
// corrected_at are unix nanoseconds; half_life_ns is a duration in
// nanoseconds. superseded_by is NULL for live signals so the partial
// index keeps subject snapshots cheap.
const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id             TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	entity_kind    TEXT NOT NULL,
	kind           TEXT NOT NULL,
	source         TEXT NOT NULL,
	raw_confidence REAL NOT NULL,
	created_at     INTEGER NOT NULL,
	half_life_ns   INTEGER NOT NULL,
	superseded_by  TEXT
);
CREATE INDEX IF NOT EXISTS idx_signals_live_subject
	ON signals(subject_id) WHERE superseded_by IS NULL;

CREATE TABLE IF NOT EXISTS reliability_weights (
	source      TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	kind        TEXT NOT NULL,
	alpha       REAL NOT NULL,
	beta        REAL NOT NULL,
	updates     INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (source, entity_kind, kind)
);

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL,
	entity_kind     TEXT NOT NULL,
	old_entity_id   TEXT,
	new_entity_id   TEXT NOT NULL,
	rejected_source TEXT,
	corrected_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_subject ON corrections(subject_id);
`

// SQLiteStore is the durable signal store. The same handle also serves the
// reliability and correction stores so one file carries the whole engine
// state; sqlite's write serialization gives the per-triple atomicity the
// reliability model requires.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the engine database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY churn under the worker pool.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts a signal, superseding the live occupant of its slot.
func (s *SQLiteStore) Append(ctx context.Context, sig signal.Signal) (string, error) {
	if err := sig.Validate(); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var superseded sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM signals
		 WHERE subject_id=? AND entity_id=? AND entity_kind=? AND kind=? AND source=?
		   AND superseded_by IS NULL`,
		sig.SubjectID, sig.EntityID, string(sig.EntityKind), string(sig.Kind), string(sig.Source),
	).Scan(&superseded)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find supersede slot: %w", err)
	}
	if superseded.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE signals SET superseded_by=? WHERE id=?`, sig.ID, superseded.String); err != nil {
			return "", fmt.Errorf("supersede %s: %w", superseded.String, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO signals (id, subject_id, entity_id, entity_kind, kind, source,
			raw_confidence, created_at, half_life_ns, superseded_by)
		 VALUES (?,?,?,?,?,?,?,?,?,NULL)`,
		sig.ID, sig.SubjectID, sig.EntityID, string(sig.EntityKind), string(sig.Kind),
		string(sig.Source), sig.RawConfidence, sig.CreatedAt.UnixNano(), int64(sig.HalfLife),
	); err != nil {
		return "", fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}
	return superseded.String, nil
}

// BySubject returns the subject's live signals.
func (s *SQLiteStore) BySubject(ctx context.Context, subjectID string) ([]signal.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, entity_id, entity_kind, kind, source,
			raw_confidence, created_at, half_life_ns
		 FROM signals WHERE subject_id=? AND superseded_by IS NULL
		 ORDER BY created_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query subject %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Get returns a signal by id, live or superseded.
func (s *SQLiteStore) Get(ctx context.Context, id string) (signal.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, entity_id, entity_kind, kind, source,
			raw_confidence, created_at, half_life_ns
		 FROM signals WHERE id=?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Signal{}, ErrSignalNotFound
	}
	return sig, err
}

// Subjects lists distinct subject ids.
func (s *SQLiteStore) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM signals`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Count returns the number of live signals.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE superseded_by IS NULL`).Scan(&n); err != nil {
		return 0
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(r rowScanner) (signal.Signal, error) {
	var (
		sig                 signal.Signal
		ek, kind, source    string
		createdNs, halfLife int64
	)
	if err := r.Scan(&sig.ID, &sig.SubjectID, &sig.EntityID, &ek, &kind, &source,
		&sig.RawConfidence, &createdNs, &halfLife); err != nil {
		return signal.Signal{}, err
	}
	sig.EntityKind = signal.EntityKind(ek)
	sig.Kind = signal.Kind(kind)
	sig.Source = signal.Source(source)
	sig.CreatedAt = time.Unix(0, createdNs)
	sig.HalfLife = time.Duration(halfLife)
	return sig, nil
}

// ReliabilityStore exposes the handle as a reliability.Store.
func (s *SQLiteStore) ReliabilityStore() reliability.Store {
	return &sqliteReliability{db: s.db}
}

type sqliteReliability struct {
	db *sql.DB
}

func (r *sqliteReliability) Get(ctx context.Context, t reliability.Triple) (reliability.Weight, error) {
	var w reliability.Weight
	var updatedNs int64
	err := r.db.QueryRowContext(ctx,
		`SELECT alpha, beta, updates, updated_at FROM reliability_weights
		 WHERE source=? AND entity_kind=? AND kind=?`,
		string(t.Source), string(t.EntityKind), string(t.Kind),
	).Scan(&w.Alpha, &w.Beta, &w.Updates, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return reliability.PriorFor(t), nil
	}
	if err != nil {
		return reliability.Weight{}, fmt.Errorf("load weight: %w", err)
	}
	w.UpdatedAt = time.Unix(0, updatedNs)
	return w, nil
}

func (r *sqliteReliability) Update(ctx context.Context, t reliability.Triple, accepted bool) (reliability.Weight, error) {
	dAlpha, dBeta := 0.0, 1.0
	if accepted {
		dAlpha, dBeta = 1.0, 0.0
	}
	// First outcome for a triple seeds its cold-start prior; later outcomes
	// only apply the delta.
	prior := reliability.PriorFor(t)
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reliability_weights (source, entity_kind, kind, alpha, beta, updates, updated_at)
		 VALUES (?,?,?,?,?,1,?)
		 ON CONFLICT(source, entity_kind, kind) DO UPDATE SET
			alpha=alpha+?,
			beta=beta+?,
			updates=updates+1,
			updated_at=excluded.updated_at`,
		string(t.Source), string(t.EntityKind), string(t.Kind),
		prior.Alpha+dAlpha, prior.Beta+dBeta, now.UnixNano(), dAlpha, dBeta)
	if err != nil {
		return reliability.Weight{}, fmt.Errorf("update weight: %w", err)
	}
	return r.Get(ctx, t)
}

func (r *sqliteReliability) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reliability_weights WHERE updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep weights: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteReliability) Count(ctx context.Context) int {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reliability_weights`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// CorrectionStore exposes the handle as a feedback.CorrectionStore.
func (s *SQLiteStore) CorrectionStore() feedback.CorrectionStore {
	return &sqliteCorrections{db: s.db}
}

type sqliteCorrections struct {
	db *sql.DB
}

func (c *sqliteCorrections) Append(ctx context.Context, rec feedback.Correction) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM corrections WHERE id=?`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check correction %s: %w", rec.ID, err)
	}
	if exists > 0 {
		return feedback.ErrDuplicateCorrection
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO corrections (id, subject_id, entity_kind, old_entity_id, new_entity_id, rejected_source, corrected_at)
		 VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.SubjectID, string(rec.EntityKind), rec.OldEntityID, rec.NewEntityID,
		string(rec.RejectedSource), rec.CorrectedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert correction %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (c *sqliteCorrections) BySubject(ctx context.Context, subjectID string) ([]feedback.Correction, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, subject_id, entity_kind, old_entity_id, new_entity_id, rejected_source, corrected_at
		 FROM corrections WHERE subject_id=? ORDER BY corrected_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query corrections for %s: %w", subjectID, err)
	}
	defer rows.Close()
	var out []feedback.Correction
	for rows.Next() {
		var (
			rec          feedback.Correction
			ek, src      string
			correctedNs  int64
			oldEntity    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &ek, &oldEntity, &rec.NewEntityID, &src, &correctedNs); err != nil {
			return nil, err
		}
		rec.EntityKind = signal.EntityKind(ek)
		rec.OldEntityID = oldEntity.String
		rec.RejectedSource = signal.Source(src)
		rec.CorrectedAt = time.Unix(0, correctedNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *sqliteCorrections) Count(ctx context.Context) int {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections`).Scan(&n); err != nil {
		return 0
	}
	return n
}
