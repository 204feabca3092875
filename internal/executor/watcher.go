package executor

import (
	"context"
	"strings"
	"time"
)

// watch polls the session's rendered terminal output for an idle prompt.
// The first tick only observes: markers can still be on screen from before
// the dispatch settled, so completion is accepted from the second tick on.
// A dead process fails the execution immediately.
func (e *Executor) watch(ctx context.Context, exec *execution) {
	out, err := e.outputs(exec.sessionID)
	if err != nil {
		e.finish(exec, StateFailed, "agent output unavailable", SourcePoll)
		return
	}

	ticker := time.NewTicker(e.det.PollInterval())
	defer ticker.Stop()

	settling := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !out.Alive() {
			e.finish(exec, StateFailed, "agent process exited", SourcePoll)
			return
		}
		if settling {
			settling = false
			continue
		}
		if e.tailIdle(out.TailLines(e.det.TailLines)) {
			e.finish(exec, StateCompleted, "", SourcePoll)
			return
		}
	}
}

// watchTimeout fails the execution when it outlives the configured ceiling.
func (e *Executor) watchTimeout(ctx context.Context, exec *execution, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		e.finish(exec, StateFailed, "execution timed out", "")
	}
}

// tailIdle reports whether any idle marker appears in the rendered tail.
func (e *Executor) tailIdle(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	tail := strings.ToLower(strings.Join(lines, "\n"))
	for _, marker := range e.det.IdleMarkers {
		if marker != "" && strings.Contains(tail, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
