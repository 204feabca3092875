package terminal

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/logger"
)

// ExitInfo describes how an agent process terminated.
type ExitInfo struct {
	Code   int
	Signal string
	Err    error
}

// ExitObserver receives a single callback when the process exits,
// after the pty has been closed and all output drained.
type ExitObserver func(sessionID string, exit ExitInfo)

// Process is a running agent attached to a pty. Output is continuously
// drained into both a raw ring buffer and a virtual terminal screen so
// rendered output can be inspected without blocking the child.
type Process struct {
	sessionID string

	pty    PtyHandle
	buffer *ringBuffer
	screen *Screen
	log    *logger.Logger

	pid  int
	pgid int

	mu       sync.Mutex
	exit     *ExitInfo
	done     chan struct{}
	onExit   ExitObserver
	closePty sync.Once
}

// SessionID returns the session this process belongs to.
func (p *Process) SessionID() string { return p.sessionID }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.pid }

// Pgid returns the child's process group id. The child is started as a
// session leader, so this normally equals Pid.
func (p *Process) Pgid() int { return p.pgid }

// Write sends input bytes to the agent's pty.
func (p *Process) Write(data []byte) (int, error) {
	return p.pty.Write(data)
}

// Resize changes the pty window size and the virtual screen together.
func (p *Process) Resize(cols, rows uint16) error {
	if err := p.pty.Resize(cols, rows); err != nil {
		return err
	}
	p.screen.Resize(int(cols), int(rows))
	return nil
}

// Tail returns up to n bytes of recent raw output.
func (p *Process) Tail(n int) string {
	return p.buffer.tail(n)
}

// TailLines returns the last n non-blank rendered screen lines.
func (p *Process) TailLines(n int) []string {
	return p.screen.TailLines(n)
}

// Done is closed once the process has exited and its exit info recorded.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exit returns the recorded exit info, or nil while still running.
func (p *Process) Exit() *ExitInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Alive reports whether the process has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Close closes the pty side. The read loop unblocks with an error and
// the wait goroutine reaps the child once it exits.
func (p *Process) Close() error {
	var err error
	p.closePty.Do(func() {
		err = p.pty.Close()
	})
	return err
}

// readLoop drains pty output into the ring buffer and virtual screen.
// It exits when the pty returns an error, typically EOF on child exit.
func (p *Process) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.buffer.append(string(chunk))
			p.screen.Write(chunk)
		}
		if err != nil {
			if err != io.EOF {
				p.log.WithSessionID(p.sessionID).Debug("pty read ended", zap.Error(err))
			}
			return
		}
	}
}

// waitLoop reaps the child, closes the pty, records exit info and
// notifies the observer exactly once.
func (p *Process) waitLoop(waiter func() (int, string, error)) {
	code, sig, err := waiter()

	p.Close()

	info := ExitInfo{Code: code, Signal: sig, Err: err}
	p.mu.Lock()
	p.exit = &info
	p.mu.Unlock()
	close(p.done)

	p.log.WithSessionID(p.sessionID).Info("agent process exited",
		zap.Int("pid", p.pid), zap.Int("exit_code", code), zap.String("signal", sig))

	if p.onExit != nil {
		p.onExit(p.sessionID, info)
	}
}
