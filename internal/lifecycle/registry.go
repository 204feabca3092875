// Package lifecycle tracks the operating system processes owned by the
// service. Every spawned agent is registered with its pid and pgid; the
// records are persisted so a restarted service can find and stop processes
// orphaned by a crash instead of leaking them.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/logger"
)

// signaller abstracts process signalling so termination behavior can be
// tested without real processes.
type signaller interface {
	Terminate(pgid int) error
	Kill(pgid int) error
	Alive(pid int) bool
	GroupID(pid int) (int, bool)
}

const livenessPollInterval = 100 * time.Millisecond

// Registry owns process records and their termination.
type Registry struct {
	store            *Store
	sig              signaller
	log              *logger.Logger
	terminateTimeout time.Duration
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store *Store, log *logger.Logger, terminateTimeout time.Duration) *Registry {
	return &Registry{
		store:            store,
		sig:              systemSignaller{},
		log:              log,
		terminateTimeout: terminateTimeout,
	}
}

// Register persists the pid/pgid pair for a session. It is called
// immediately after a successful spawn.
func (r *Registry) Register(ctx context.Context, sessionID string, pid, pgid int) error {
	return r.store.Put(ctx, Record{
		SessionID:    sessionID,
		PID:          pid,
		PGID:         pgid,
		RegisteredAt: time.Now().UTC(),
	})
}

// Unregister removes the record for a session, typically after the process
// exited on its own.
func (r *Registry) Unregister(ctx context.Context, sessionID string) error {
	return r.store.Delete(ctx, sessionID)
}

// TerminateGracefully stops the process group for a session: SIGTERM to the
// group, then a liveness poll bounded by the configured timeout, then a
// single SIGKILL escalation if the leader is still running. The record is
// removed regardless of how the process died.
func (r *Registry) TerminateGracefully(ctx context.Context, sessionID string, pid, pgid int) error {
	log := r.log.WithSessionID(sessionID).WithFields(
		zap.Int("pid", pid), zap.Int("pgid", pgid))

	if !r.sig.Alive(pid) {
		log.Debug("process already exited before termination")
		return r.store.Delete(ctx, sessionID)
	}

	if err := r.sig.Terminate(pgid); err != nil {
		log.WithError(err).Warn("sending SIGTERM to process group failed")
	}

	deadline := time.Now().Add(r.terminateTimeout)
	ticker := time.NewTicker(livenessPollInterval)
	defer ticker.Stop()

	for r.sig.Alive(pid) {
		if time.Now().After(deadline) {
			log.Warn("process survived SIGTERM, escalating to SIGKILL")
			if err := r.sig.Kill(pgid); err != nil {
				log.WithError(err).Warn("sending SIGKILL to process group failed")
			}
			return r.confirmExit(ctx, log, sessionID, pid)
		}
		select {
		case <-ctx.Done():
			// Best effort on cancellation: force the kill before giving up.
			_ = r.sig.Kill(pgid)
			return r.confirmExit(ctx, log, sessionID, pid)
		case <-ticker.C:
		}
	}

	log.Info("process group terminated")
	return r.store.Delete(ctx, sessionID)
}

// confirmExit removes the record only once the leader is confirmed dead.
// SIGKILL delivery is not instantaneous, so the liveness probe is retried
// briefly; a record whose process somehow survives is kept so the next
// orphan sweep retries it.
func (r *Registry) confirmExit(ctx context.Context, log *logger.Logger, sessionID string, pid int) error {
	for attempt := 0; attempt < 5; attempt++ {
		if !r.sig.Alive(pid) {
			log.Info("process group terminated")
			return r.store.Delete(ctx, sessionID)
		}
		time.Sleep(livenessPollInterval)
	}
	log.Error("process survived SIGKILL, keeping record for next sweep")
	return nil
}

// SweepOrphans terminates processes left over from a previous run. A record
// whose pid is dead, or whose pid now belongs to a different process group,
// is treated as stale and only cleaned up. It returns the number of live
// orphans that were terminated.
func (r *Registry) SweepOrphans(ctx context.Context) (int, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, rec := range records {
		log := r.log.WithSessionID(rec.SessionID).WithFields(
			zap.Int("pid", rec.PID), zap.Int("pgid", rec.PGID))

		pgid, ok := r.sig.GroupID(rec.PID)
		if !ok || pgid != rec.PGID {
			// Dead, or the pid was recycled by an unrelated process.
			log.Debug("dropping stale process record")
			if err := r.store.Delete(ctx, rec.SessionID); err != nil {
				return terminated, err
			}
			continue
		}

		log.Info("terminating orphaned agent process")
		if err := r.TerminateGracefully(ctx, rec.SessionID, rec.PID, rec.PGID); err != nil {
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}
