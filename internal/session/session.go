// Package session manages the lifecycle of agent sessions: bounded
// creation, active-session tracking, persistence, and restoration across
// service restarts.
package session

import (
	"time"

	"github.com/termpilot/termpilot/internal/terminal"
)

// Session is an open session with a running agent process. Mutable fields
// are guarded by the manager's lock.
type Session struct {
	ID         string
	Name       string
	WorkingDir string
	ProjectRef string
	CreatedAt  time.Time

	externalID   string
	lastActivity time.Time
	proc         *terminal.Process
}

// Process returns the live agent process for the session.
func (s *Session) Process() *terminal.Process { return s.proc }

// Snapshot is an immutable view of a session for API responses.
type Snapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WorkingDir   string    `json:"working_dir"`
	ProjectRef   string    `json:"project_ref,omitempty"`
	ExternalID   string    `json:"external_session_id,omitempty"`
	Active       bool      `json:"active"`
	Pid          int       `json:"pid"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Session) snapshot(active bool) Snapshot {
	return Snapshot{
		ID:           s.ID,
		Name:         s.Name,
		WorkingDir:   s.WorkingDir,
		ProjectRef:   s.ProjectRef,
		ExternalID:   s.externalID,
		Active:       active,
		Pid:          s.proc.Pid(),
		LastActivity: s.lastActivity,
		CreatedAt:    s.CreatedAt,
	}
}
