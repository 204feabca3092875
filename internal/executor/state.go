package executor

import "time"

// State is the execution lifecycle state for a session. A session runs at
// most one execution at a time and always returns to idle.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends an execution.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Completion signal sources. The push and poll detectors race; the first
// signal wins and the loser becomes a no-op.
const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// Result is the terminal outcome of one execution.
type Result struct {
	ExecutionID string    `json:"execution_id"`
	SessionID   string    `json:"session_id"`
	State       State     `json:"state"`
	Detail      string    `json:"detail,omitempty"`
	Source      string    `json:"source,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
