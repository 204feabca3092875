package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/config"
	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/dispatch"
	"github.com/termpilot/termpilot/internal/events/bus"
	"github.com/termpilot/termpilot/internal/lifecycle"
	"github.com/termpilot/termpilot/internal/session/store"
	"github.com/termpilot/termpilot/internal/terminal"
)

// ErrSessionLimit is returned by Create when the configured session cap is
// already reached. Callers surface it; nothing is evicted to make room.
var ErrSessionLimit = apperrors.LimitReached("session limit reached")

const staleResumePollInterval = 200 * time.Millisecond

// CreateRequest describes a new session.
type CreateRequest struct {
	Name       string
	WorkingDir string
	ProjectRef string
}

// Manager owns all open sessions. It enforces the session cap, tracks the
// active session, and coordinates the spawner, process registry, and
// dispatch registry so the rest of the system never touches them directly.
type Manager struct {
	cfg     config.SessionConfig
	store   *store.Store
	spawner *terminal.Spawner
	procs   *lifecycle.Registry
	routes  *dispatch.Registry
	bus     bus.EventBus
	log     *logger.Logger

	mu       sync.Mutex
	open     map[string]*Session
	activeID string
}

// NewManager wires a Manager and registers itself as the dispatch activity
// toucher.
func NewManager(
	cfg config.SessionConfig,
	st *store.Store,
	spawner *terminal.Spawner,
	procs *lifecycle.Registry,
	routes *dispatch.Registry,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   st,
		spawner: spawner,
		procs:   procs,
		routes:  routes,
		bus:     eventBus,
		log:     log,
		open:    make(map[string]*Session),
	}
	routes.SetActivityToucher(m)
	return m
}

// Create opens a new session: spawns a fresh agent process, persists the
// record, and promotes the session to active. Returns ErrSessionLimit when
// the cap is reached.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Snapshot, error) {
	if req.WorkingDir == "" {
		return Snapshot{}, apperrors.BadRequest("working_dir is required")
	}
	name := strings.TrimSpace(req.Name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.open) >= m.cfg.MaxSessions {
		return Snapshot{}, ErrSessionLimit
	}

	id := uuid.New().String()
	if name == "" {
		name = "session-" + id[:8]
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           id,
		Name:         name,
		WorkingDir:   req.WorkingDir,
		ProjectRef:   req.ProjectRef,
		CreatedAt:    now,
		lastActivity: now,
	}

	proc, err := m.spawnLocked(ctx, sess, "")
	if err != nil {
		return Snapshot{}, err
	}
	sess.proc = proc

	rec := store.Record{
		ID:           id,
		Name:         name,
		WorkingDir:   req.WorkingDir,
		LastActivity: now,
		CreatedAt:    now,
	}
	if req.ProjectRef != "" {
		rec.ProjectRef.String = req.ProjectRef
		rec.ProjectRef.Valid = true
	}
	if err := m.store.Create(ctx, rec); err != nil {
		m.teardownLocked(ctx, sess)
		return Snapshot{}, err
	}

	m.open[id] = sess
	m.activeID = id

	m.publish(bus.SubjectSessionCreated, map[string]any{
		"session_id": id, "name": name, "pid": proc.Pid()})
	m.publish(bus.SubjectSessionActivated, map[string]any{"session_id": id})

	return sess.snapshot(true), nil
}

// Close terminates a session's process and removes it from the open set.
// The persisted record is kept so the session can be restored later.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	delete(m.open, id)
	m.routes.Unregister(id)
	wasActive := m.activeID == id
	if wasActive {
		m.promoteLocked()
	}
	m.mu.Unlock()

	err := m.procs.TerminateGracefully(ctx, id, sess.proc.Pid(), sess.proc.Pgid())

	m.publish(bus.SubjectSessionClosed, map[string]any{"session_id": id})
	return err
}

// SetActive marks an open session as the active one.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	if m.activeID != id {
		m.activeID = id
		m.publish(bus.SubjectSessionActivated, map[string]any{"session_id": id})
	}
	return nil
}

// Active returns a snapshot of the active session, or false when no session
// is open.
func (m *Manager) Active() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.open[m.activeID]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(true), true
}

// Get returns a snapshot of an open session.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.open[id]
	if !ok {
		return Snapshot{}, apperrors.NotFound("session", id)
	}
	return sess.snapshot(m.activeID == id), nil
}

// Process returns the live process for an open session. The executor uses
// it for output polling; input still goes through the dispatch registry.
func (m *Manager) Process(id string) (*terminal.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.open[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	return sess.proc, nil
}

// List returns snapshots of all open sessions, most recently active first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.open))
	for id, sess := range m.open {
		out = append(out, sess.snapshot(m.activeID == id))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// FindByExternalID maps an agent-reported external session id to the open
// session bound to it.
func (m *Manager) FindByExternalID(externalID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.open {
		if sess.externalID == externalID {
			return sess.snapshot(m.activeID == id), nil
		}
	}
	return Snapshot{}, apperrors.NotFound("session", externalID)
}

// BindExternalID records the agent's own session id once it is known, both
// in memory and in the persisted record, enabling resume after restart.
func (m *Manager) BindExternalID(ctx context.Context, id, externalID string) error {
	m.mu.Lock()
	sess, ok := m.open[id]
	if ok {
		sess.externalID = externalID
	}
	m.mu.Unlock()
	if !ok {
		return apperrors.NotFound("session", id)
	}
	return m.store.BindExternalID(ctx, id, externalID)
}

// Touch bumps a session's activity timestamp. Implements
// dispatch.ActivityToucher; also called by the executor on completions.
func (m *Manager) Touch(id string) {
	now := time.Now().UTC()
	m.mu.Lock()
	if sess, ok := m.open[id]; ok {
		sess.lastActivity = now
	}
	m.mu.Unlock()
	if err := m.store.TouchActivity(context.Background(), id, now); err != nil {
		m.log.WithSessionID(id).WithError(err).Debug("activity touch failed")
	}
}

// Shutdown closes every open session. Used during service shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.log.WithSessionID(id).WithError(err).Warn("session close during shutdown failed")
		}
	}
}

// spawnLocked starts an agent process for a session and registers it with
// the process and dispatch registries. Caller holds m.mu.
func (m *Manager) spawnLocked(ctx context.Context, sess *Session, resumeID string) (*terminal.Process, error) {
	proc, err := m.spawner.Spawn(ctx, terminal.SpawnRequest{
		SessionID:  sess.ID,
		WorkingDir: sess.WorkingDir,
		ResumeID:   resumeID,
		OnExit:     m.handleProcessExit,
	})
	if err != nil {
		return nil, err
	}
	if err := m.procs.Register(ctx, sess.ID, proc.Pid(), proc.Pgid()); err != nil {
		_ = proc.Close()
		return nil, err
	}
	m.routes.Register(sess.ID, proc)
	return proc, nil
}

// teardownLocked reverses spawnLocked after a later step failed.
func (m *Manager) teardownLocked(ctx context.Context, sess *Session) {
	m.routes.Unregister(sess.ID)
	_ = m.procs.TerminateGracefully(ctx, sess.ID, sess.proc.Pid(), sess.proc.Pgid())
}

// handleProcessExit runs when an agent process dies on its own. Close
// removes the session from the open set first, so this only acts on
// unexpected exits.
func (m *Manager) handleProcessExit(sessionID string, exit terminal.ExitInfo) {
	ctx := context.Background()

	m.mu.Lock()
	_, stillOpen := m.open[sessionID]
	if stillOpen {
		delete(m.open, sessionID)
		m.routes.Unregister(sessionID)
		if m.activeID == sessionID {
			m.promoteLocked()
		}
	}
	m.mu.Unlock()

	if !stillOpen {
		return
	}

	if err := m.procs.Unregister(ctx, sessionID); err != nil {
		m.log.WithSessionID(sessionID).WithError(err).Warn("process record cleanup failed")
	}

	m.publish(bus.SubjectProcessExited, map[string]any{
		"session_id": sessionID,
		"exit_code":  exit.Code,
		"signal":     exit.Signal,
	})
	m.publish(bus.SubjectSessionClosed, map[string]any{"session_id": sessionID})
}

// promoteLocked makes the most recently active open session the active one.
// Caller holds m.mu.
func (m *Manager) promoteLocked() {
	m.activeID = ""
	var latest time.Time
	for id, sess := range m.open {
		if m.activeID == "" || sess.lastActivity.After(latest) {
			m.activeID = id
			latest = sess.lastActivity
		}
	}
	if m.activeID != "" {
		m.publish(bus.SubjectSessionActivated, map[string]any{"session_id": m.activeID})
	}
}

func (m *Manager) publish(subject string, data map[string]any) {
	event := bus.NewEvent(subject, "session-manager", data)
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.log.WithError(err).Debug("event publish failed", zap.String("subject", subject))
	}
}
