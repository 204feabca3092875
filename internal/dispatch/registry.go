// Package dispatch routes text input to running agent processes. It is the
// single seam through which anything writes to an agent's pty, so callers
// never hold process handles themselves.
package dispatch

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/logger"
)

// ProcessHandle is the write side of a running agent process.
type ProcessHandle interface {
	Write(data []byte) (int, error)
}

// ActivityToucher is notified after each successful dispatch so session
// activity timestamps stay current. Wired after construction to avoid a
// dependency cycle with the session manager.
type ActivityToucher interface {
	Touch(sessionID string)
}

// Registry maps session ids to live process handles.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]ProcessHandle
	toucher ActivityToucher
	log     *logger.Logger
}

// NewRegistry creates an empty dispatch registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		handles: make(map[string]ProcessHandle),
		log:     log,
	}
}

// SetActivityToucher wires the post-dispatch activity callback.
func (r *Registry) SetActivityToucher(t ActivityToucher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toucher = t
}

// Register makes a session dispatchable. A second registration for the same
// session replaces the previous handle.
func (r *Registry) Register(sessionID string, h ProcessHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[sessionID] = h
}

// Unregister removes a session's handle. Unknown ids are ignored.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, sessionID)
}

// IsAvailable reports whether the session currently has a live handle.
func (r *Registry) IsAvailable(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[sessionID]
	return ok
}

// Dispatch writes text to the session's pty, appending a trailing newline
// when missing so the agent treats it as submitted input. It returns false
// instead of an error when the session has no handle or the write fails;
// dispatch failures are soft by contract and the caller decides severity.
func (r *Registry) Dispatch(sessionID string, text string) bool {
	r.mu.RLock()
	h, ok := r.handles[sessionID]
	toucher := r.toucher
	r.mu.RUnlock()

	if !ok {
		r.log.WithSessionID(sessionID).Debug("dispatch skipped, no process handle")
		return false
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if _, err := h.Write([]byte(text)); err != nil {
		r.log.WithSessionID(sessionID).WithError(err).Warn("dispatch write failed",
			zap.Int("bytes", len(text)))
		return false
	}

	if toucher != nil {
		toucher.Touch(sessionID)
	}
	return true
}
