// Package failurestore persists boot failure reports across attempts.
//
// A session that fails leaves nothing behind but its report; the store
// keeps those reports in a local SQLite database so the next boot, or a
// technician, can read what happened. The store is strictly off the boot
// path: it runs wherever the reports are carried to, never in the loader.
package failurestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nos-project/nosboot/pkg/report"
)

// ErrNotFound reports that no failure is stored for the session.
var ErrNotFound = errors.New("failure report not found")

// StoredFailure is one persisted failure report.
type StoredFailure struct {
	SessionID  string
	Stage      string
	Attempt    int
	Digest     string
	RecordedAt time.Time
	Report     *report.Report
}

// Store persists failure reports.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failurestore: migrate: %w", err)
	}
	return s, nil
}

// Open opens (or creates) the SQLite database at path. ":memory:" gives
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failurestore: open %s: %w", path, err)
	}
	return NewStore(db)
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS boot_failures (
		session_id  TEXT PRIMARY KEY,
		stage       TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		digest      TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		report      BLOB NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one failure report. Recording the same session twice
// replaces the earlier row; the report is keyed by session identity.
func (s *Store) Record(ctx context.Context, r *report.Report) error {
	raw, err := r.EncodeYAML()
	if err != nil {
		return fmt.Errorf("failurestore: encode: %w", err)
	}
	digest, err := r.Digest()
	if err != nil {
		return fmt.Errorf("failurestore: digest: %w", err)
	}

	query := `INSERT OR REPLACE INTO boot_failures (
		session_id, stage, attempt, digest, recorded_at, report
	) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.SessionID, r.Stage, r.Attempt, digest,
		time.Now().UTC().UnixNano(), raw,
	)
	if err != nil {
		return fmt.Errorf("failurestore: insert: %w", err)
	}
	return nil
}

// Get returns the stored failure for a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*StoredFailure, error) {
	query := `
	SELECT session_id, stage, attempt, digest, recorded_at, report
	FROM boot_failures
	WHERE session_id = ?`
	return s.queryOne(s.db.QueryRowContext(ctx, query, sessionID))
}

// List returns the most recent failures, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*StoredFailure, error) {
	query := `
	SELECT session_id, stage, attempt, digest, recorded_at, report
	FROM boot_failures
	ORDER BY recorded_at DESC
	LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failurestore: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*StoredFailure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failurestore: list: %w", err)
	}
	return out, nil
}

// Prune deletes everything but the newest keep rows.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	query := `
	DELETE FROM boot_failures
	WHERE session_id NOT IN (
		SELECT session_id FROM boot_failures
		ORDER BY recorded_at DESC
		LIMIT ?
	)`
	res, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failurestore: prune: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryOne(row *sql.Row) (*StoredFailure, error) {
	f, err := scanFailure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func scanFailure(row rowScanner) (*StoredFailure, error) {
	var f StoredFailure
	var recordedAt int64
	var raw []byte
	if err := row.Scan(&f.SessionID, &f.Stage, &f.Attempt, &f.Digest, &recordedAt, &raw); err != nil {
		return nil, err
	}
	f.RecordedAt = time.Unix(0, recordedAt).UTC()

	r, err := report.DecodeYAML(raw)
	if err != nil {
		return nil, err
	}
	f.Report = r
	return &f, nil
}
