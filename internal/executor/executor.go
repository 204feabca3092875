// Package executor runs prompts against agent sessions through a
// single-flight execution state machine. Completion is detected by racing
// two signals: an HTTP push from the agent's own hook, and a poll watcher
// that scans rendered terminal output for an idle prompt. Whichever fires
// first wins; the other becomes a no-op.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/config"
	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/events/bus"
)

// ErrAlreadyExecuting is returned when a session already has an execution
// in flight. Executions are single-flight per session, never queued here.
var ErrAlreadyExecuting = apperrors.Conflict("execution already in progress for session")

// Dispatcher is the input seam to agent processes.
type Dispatcher interface {
	Dispatch(sessionID, text string) bool
	IsAvailable(sessionID string) bool
}

// OutputTailer exposes the rendered output of a running agent for the poll
// watcher.
type OutputTailer interface {
	TailLines(n int) []string
	Alive() bool
}

// OutputLookup resolves a session id to its live output.
type OutputLookup func(sessionID string) (OutputTailer, error)

// ActivityToucher is notified when an execution completes successfully.
type ActivityToucher interface {
	Touch(sessionID string)
}

// execution is one in-flight prompt. once guards the terminal transition so
// racing completion signals settle exactly one winner.
type execution struct {
	id        string
	sessionID string
	startedAt time.Time
	state     State // guarded by Executor.mu

	once        sync.Once
	done        chan Result
	cancelWatch context.CancelFunc
}

// ActiveLookup resolves the current active session id, used when a request
// names no session explicitly.
type ActiveLookup func() (string, bool)

// Executor owns at most one execution per session.
type Executor struct {
	cfg      config.ExecutionConfig
	det      config.DetectionConfig
	routes   Dispatcher
	outputs  OutputLookup
	resolver TemplateResolver
	toucher  ActivityToucher
	bus      bus.EventBus
	log      *logger.Logger
	active   ActiveLookup

	mu       sync.Mutex
	running  map[string]*execution
	pushSeen map[string]bool
}

// New creates an Executor.
func New(
	cfg config.ExecutionConfig,
	det config.DetectionConfig,
	routes Dispatcher,
	outputs OutputLookup,
	resolver TemplateResolver,
	toucher ActivityToucher,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Executor {
	if resolver == nil {
		resolver = PassthroughResolver{}
	}
	return &Executor{
		cfg:      cfg,
		det:      det,
		routes:   routes,
		outputs:  outputs,
		resolver: resolver,
		toucher:  toucher,
		bus:      eventBus,
		log:      log,
		running:  make(map[string]*execution),
		pushSeen: make(map[string]bool),
	}
}

// SetActiveLookup wires the active-session fallback for requests that name
// no session.
func (e *Executor) SetActiveLookup(lookup ActiveLookup) {
	e.active = lookup
}

// Execute dispatches a prompt to the session's agent and blocks until the
// execution reaches a terminal state. An empty session id targets the
// active session. Template resolution happens in the sending state, so an
// incomplete resolution fails the execution instead of reaching the pty.
func (e *Executor) Execute(ctx context.Context, sessionID, prompt string) (Result, error) {
	if sessionID == "" {
		if e.active != nil {
			if id, ok := e.active(); ok {
				sessionID = id
			}
		}
		if sessionID == "" {
			return Result{}, apperrors.NotFound("active session", "")
		}
	}
	if !e.routes.IsAvailable(sessionID) {
		return Result{}, apperrors.NotFound("session", sessionID)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())

	e.mu.Lock()
	if _, busy := e.running[sessionID]; busy {
		e.mu.Unlock()
		cancelWatch()
		return Result{}, ErrAlreadyExecuting
	}
	exec := &execution{
		id:          uuid.New().String(),
		sessionID:   sessionID,
		startedAt:   time.Now().UTC(),
		state:       StateSending,
		done:        make(chan Result, 1),
		cancelWatch: cancelWatch,
	}
	e.running[sessionID] = exec
	e.mu.Unlock()

	e.publishTransition(exec, StateSending, "")

	resolved, complete, missing := e.resolver.Resolve(prompt)
	if !complete {
		e.finish(exec, StateFailed,
			"unresolved placeholders: "+strings.Join(missing, ", "), "")
		return <-exec.done, nil
	}

	if !e.routes.Dispatch(sessionID, resolved) {
		e.finish(exec, StateFailed, "dispatch failed", "")
		return <-exec.done, nil
	}

	// A terminal transition can land while the prompt is being written (a
	// pty write can block, and Cancel does not wait for it). In that case
	// the execution is already out of the running set; deliver its result
	// without starting any watcher.
	e.mu.Lock()
	if e.running[sessionID] != exec {
		e.mu.Unlock()
		return <-exec.done, nil
	}
	exec.state = StateExecuting
	e.mu.Unlock()
	e.publishTransition(exec, StateExecuting, "")

	if e.pollEnabled(sessionID) {
		go e.watch(watchCtx, exec)
	}
	if timeout := e.cfg.Timeout(); timeout > 0 {
		go e.watchTimeout(watchCtx, exec, timeout)
	}

	select {
	case res := <-exec.done:
		return res, nil
	case <-ctx.Done():
		e.finish(exec, StateCancelled, "caller context cancelled", "")
		return <-exec.done, ctx.Err()
	}
}

// HandleCompletion delivers a completion signal for a session. It returns
// false when the session has no execution in flight or another signal
// already won; the caller treats both as benign.
func (e *Executor) HandleCompletion(sessionID, source string) bool {
	e.mu.Lock()
	if source == SourcePush {
		e.pushSeen[sessionID] = true
	}
	exec := e.running[sessionID]
	executing := exec != nil && exec.state == StateExecuting
	e.mu.Unlock()

	if !executing {
		e.log.WithSessionID(sessionID).Debug("completion signal with no execution in flight",
			zap.String("source", source))
		return false
	}
	return e.finish(exec, StateCompleted, "", source)
}

// Cancel moves an in-flight execution to cancelled. The agent process is
// left running; cancellation abandons waiting, it does not interrupt work.
func (e *Executor) Cancel(sessionID string) error {
	e.mu.Lock()
	exec := e.running[sessionID]
	e.mu.Unlock()
	if exec == nil {
		return apperrors.NotFound("execution", sessionID)
	}
	e.finish(exec, StateCancelled, "cancelled by request", "")
	return nil
}

// StateOf reports the current execution state for a session.
func (e *Executor) StateOf(sessionID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, busy := e.running[sessionID]; busy {
		return exec.state
	}
	return StateIdle
}

// finish performs the terminal transition exactly once and reports whether
// this call was the winner.
func (e *Executor) finish(exec *execution, state State, detail, source string) bool {
	won := false
	exec.once.Do(func() {
		won = true
		exec.cancelWatch()

		e.mu.Lock()
		delete(e.running, exec.sessionID)
		e.mu.Unlock()

		res := Result{
			ExecutionID: exec.id,
			SessionID:   exec.sessionID,
			State:       state,
			Detail:      detail,
			Source:      source,
			StartedAt:   exec.startedAt,
			FinishedAt:  time.Now().UTC(),
		}

		e.publishTransition(exec, state, source)
		if state == StateCompleted && e.toucher != nil {
			e.toucher.Touch(exec.sessionID)
		}

		e.log.WithSessionID(exec.sessionID).WithExecutionID(exec.id).Info("execution finished",
			zap.String("state", string(state)),
			zap.String("source", source),
			zap.String("detail", detail))

		exec.done <- res
	})
	return won
}

// pollEnabled reports whether the poll watcher should run for a session.
// Once a push completion has been observed, the push path can be treated as
// authoritative and polling skipped.
func (e *Executor) pollEnabled(sessionID string) bool {
	if !e.det.DisablePollAfterPush {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.pushSeen[sessionID]
}

func (e *Executor) publishTransition(exec *execution, state State, source string) {
	event := bus.NewEvent(bus.SubjectExecution, "executor", map[string]any{
		"execution_id": exec.id,
		"session_id":   exec.sessionID,
		"state":        string(state),
		"source":       source,
	})
	if err := e.bus.Publish(context.Background(), bus.SubjectExecution, event); err != nil {
		e.log.WithError(err).Debug("execution event publish failed")
	}
}
