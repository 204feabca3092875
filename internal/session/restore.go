package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/events/bus"
	"github.com/termpilot/termpilot/internal/terminal"
)

// Restore rebuilds the open session set after a service restart. It sweeps
// orphaned processes from the previous run, starts the retention prune in
// the background, and respawns the sessions still inside the retention
// window, preferring an agent-side resume when an external session id is
// bound.
func (m *Manager) Restore(ctx context.Context) error {
	swept, err := m.procs.SweepOrphans(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		m.log.Info("orphaned agent processes terminated", zap.Int("count", swept))
	}

	// The retention delete rides in the background so it never delays
	// session availability; resume selection filters on the same cutoff,
	// so a record being pruned is never respawned.
	cutoff := time.Now().Add(-m.cfg.Retention())
	go m.pruneRetention(cutoff)

	records, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, rec := range records {
		if rec.LastActivity.Before(cutoff) {
			continue
		}
		if restored >= m.cfg.MaxSessions {
			m.log.Warn("session cap reached during restore, leaving record closed",
				zap.String("session_id", rec.ID))
			continue
		}

		sess := &Session{
			ID:           rec.ID,
			Name:         rec.Name,
			WorkingDir:   rec.WorkingDir,
			CreatedAt:    rec.CreatedAt,
			externalID:   rec.ExternalID(),
			lastActivity: rec.LastActivity,
		}
		if rec.ProjectRef.Valid {
			sess.ProjectRef = rec.ProjectRef.String
		}

		resumeID := rec.ExternalID()

		m.mu.Lock()
		proc, err := m.spawnLocked(ctx, sess, resumeID)
		if err != nil {
			m.mu.Unlock()
			m.log.WithSessionID(rec.ID).WithError(err).Warn("session restore spawn failed")
			continue
		}
		sess.proc = proc
		m.open[rec.ID] = sess
		m.mu.Unlock()

		if resumeID != "" {
			go m.watchStaleResume(sess.ID, resumeID)
		}

		m.publish(bus.SubjectSessionCreated, map[string]any{
			"session_id": rec.ID, "name": rec.Name, "pid": proc.Pid(), "restored": true})
		restored++
	}

	m.mu.Lock()
	m.promoteLocked()
	m.mu.Unlock()

	if restored > 0 {
		m.log.Info("sessions restored", zap.Int("count", restored))
	}
	return nil
}

func (m *Manager) pruneRetention(cutoff time.Time) {
	pruned, err := m.store.DeleteInactiveBefore(context.Background(), cutoff)
	if err != nil {
		m.log.WithError(err).Warn("retention sweep failed")
		return
	}
	if pruned > 0 {
		m.log.Info("stale session records pruned", zap.Int("count", pruned))
	}
}

// watchStaleResume scans a resumed session's output during the grace window
// for markers that the agent could not find the external session. A stale
// resume is recovered by clearing the binding and respawning fresh under
// the same session id, so the session survives with an empty conversation
// rather than failing.
func (m *Manager) watchStaleResume(sessionID, externalID string) {
	deadline := time.Now().Add(m.cfg.ResumeGrace())
	ticker := time.NewTicker(staleResumePollInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		sess, ok := m.open[sessionID]
		var proc *terminal.Process
		if ok {
			proc = sess.proc
		}
		m.mu.Unlock()
		if !ok {
			return
		}

		if !proc.Alive() || m.hasStaleMarker(proc.Tail(4096)) {
			m.recoverStaleResume(sessionID, externalID)
			return
		}

		if time.Now().After(deadline) {
			return
		}
		<-ticker.C
	}
}

func (m *Manager) hasStaleMarker(tail string) bool {
	lower := strings.ToLower(tail)
	for _, marker := range m.cfg.StaleResumeMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// recoverStaleResume tears down the failed resume attempt and starts a
// fresh agent under the same session id.
func (m *Manager) recoverStaleResume(sessionID, externalID string) {
	ctx := context.Background()
	log := m.log.WithSessionID(sessionID).WithFields(zap.String("external_id", externalID))
	log.Warn("resume failed, restarting session fresh")

	m.mu.Lock()
	sess, ok := m.open[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	oldProc := sess.proc
	// Detach before killing so the exit observer treats it as expected.
	delete(m.open, sessionID)
	m.routes.Unregister(sessionID)
	m.mu.Unlock()

	if oldProc.Alive() {
		if err := m.procs.TerminateGracefully(ctx, sessionID, oldProc.Pid(), oldProc.Pgid()); err != nil {
			log.WithError(err).Warn("terminating stale resume process failed")
		}
	} else if err := m.procs.Unregister(ctx, sessionID); err != nil {
		log.WithError(err).Debug("process record cleanup failed")
	}

	if err := m.store.ClearExternalID(ctx, sessionID); err != nil {
		log.WithError(err).Warn("clearing stale external session id failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess.externalID = ""
	proc, err := m.spawnLocked(ctx, sess, "")
	if err != nil {
		log.WithError(err).Error("fresh respawn after stale resume failed")
		if m.activeID == sessionID {
			m.promoteLocked()
		}
		return
	}
	sess.proc = proc
	m.open[sessionID] = sess
}
