package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/termpilot/termpilot/internal/db"
)

// Record is a persisted pid/pgid pair for a spawned agent process. Records
// outlive the service so a restart can sweep processes it no longer owns.
type Record struct {
	SessionID    string    `db:"session_id"`
	PID          int       `db:"pid"`
	PGID         int       `db:"pgid"`
	RegisteredAt time.Time `db:"registered_at"`
}

const processSchema = `
CREATE TABLE IF NOT EXISTS process_records (
	session_id    TEXT PRIMARY KEY,
	pid           INTEGER NOT NULL,
	pgid          INTEGER NOT NULL,
	registered_at TIMESTAMP NOT NULL
);
`

// Store persists process records in SQLite.
type Store struct {
	pool *db.Pool
}

// NewStore creates the store and ensures its schema exists.
func NewStore(pool *db.Pool) (*Store, error) {
	if _, err := pool.Writer().Exec(processSchema); err != nil {
		return nil, fmt.Errorf("creating process_records schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Put inserts or replaces the record for a session.
func (s *Store) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Writer().ExecContext(ctx, `
		INSERT INTO process_records (session_id, pid, pgid, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			pid = excluded.pid,
			pgid = excluded.pgid,
			registered_at = excluded.registered_at`,
		rec.SessionID, rec.PID, rec.PGID, rec.RegisteredAt.UTC())
	if err != nil {
		return fmt.Errorf("storing process record: %w", err)
	}
	return nil
}

// Delete removes the record for a session. Deleting a missing record is not
// an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.pool.Writer().ExecContext(ctx,
		`DELETE FROM process_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting process record: %w", err)
	}
	return nil
}

// List returns all persisted records.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.pool.Reader().SelectContext(ctx, &records,
		`SELECT session_id, pid, pgid, registered_at FROM process_records`)
	if err != nil {
		return nil, fmt.Errorf("listing process records: %w", err)
	}
	return records, nil
}
