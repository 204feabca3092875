// Package store persists session records in SQLite. Records outlive agent
// processes: a restart reads them back and decides per record whether the
// external session can be resumed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/db"
)

// Record is a persisted session.
type Record struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	WorkingDir        string         `db:"working_dir"`
	ExternalSessionID sql.NullString `db:"external_session_id"`
	ProjectRef        sql.NullString `db:"project_ref"`
	LastActivity      time.Time      `db:"last_activity"`
	CreatedAt         time.Time      `db:"created_at"`
}

// ExternalID returns the bound external session id, or "" when unbound.
func (r *Record) ExternalID() string {
	if r.ExternalSessionID.Valid {
		return r.ExternalSessionID.String
	}
	return ""
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	working_dir         TEXT NOT NULL,
	external_session_id TEXT,
	project_ref         TEXT,
	last_activity       TIMESTAMP NOT NULL,
	created_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_external ON sessions(external_session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);
`

// Store provides session persistence on a shared database pool.
type Store struct {
	pool *db.Pool
}

// New creates the store and ensures its schema exists.
func New(pool *db.Pool) (*Store, error) {
	if _, err := pool.Writer().Exec(sessionSchema); err != nil {
		return nil, fmt.Errorf("creating sessions schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Create inserts a new session record.
func (s *Store) Create(ctx context.Context, rec Record) error {
	_, err := s.pool.Writer().ExecContext(ctx, `
		INSERT INTO sessions (id, name, working_dir, external_session_id, project_ref, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.WorkingDir, rec.ExternalSessionID, rec.ProjectRef,
		rec.LastActivity.UTC(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.pool.Reader().GetContext(ctx, &rec,
		`SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session record: %w", err)
	}
	return &rec, nil
}

// List returns all sessions ordered by most recent activity first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.pool.Reader().SelectContext(ctx, &records,
		`SELECT * FROM sessions ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return records, nil
}

// FindByExternalID returns the session bound to the given external id, or a
// not-found error. External ids are bound to at most one session.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	var rec Record
	err := s.pool.Reader().GetContext(ctx, &rec,
		`SELECT * FROM sessions WHERE external_session_id = ?`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session by external id: %w", err)
	}
	return &rec, nil
}

// BindExternalID records the external session id once the agent reports it.
func (s *Store) BindExternalID(ctx context.Context, id, externalID string) error {
	res, err := s.pool.Writer().ExecContext(ctx,
		`UPDATE sessions SET external_session_id = ? WHERE id = ?`, externalID, id)
	if err != nil {
		return fmt.Errorf("binding external session id: %w", err)
	}
	return requireRow(res, id)
}

// ClearExternalID drops a binding that no longer resumes, so the next start
// spawns fresh instead of retrying a dead resume.
func (s *Store) ClearExternalID(ctx context.Context, id string) error {
	res, err := s.pool.Writer().ExecContext(ctx,
		`UPDATE sessions SET external_session_id = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clearing external session id: %w", err)
	}
	return requireRow(res, id)
}

// TouchActivity bumps the session's last activity timestamp.
func (s *Store) TouchActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.pool.Writer().ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session activity: %w", err)
	}
	return requireRow(res, id)
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.pool.Writer().ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}
	return requireRow(res, id)
}

// DeleteInactiveBefore removes sessions whose last activity predates the
// cutoff, returning how many were removed. Used by the retention sweep.
func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.pool.Writer().ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting inactive sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted sessions: %w", err)
	}
	return int(n), nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("session", id)
	}
	return nil
}
