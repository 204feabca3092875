// Package terminal spawns and supervises pseudo-terminal-backed agent
// processes. Each spawned process owns a pty, a bounded output buffer and a
// rendered screen used for idle-prompt detection.
package terminal

import "io"

// PtyHandle abstracts PTY operations across Unix and Windows.
// On Unix, this wraps creack/pty (*os.File).
// On Windows, this wraps Windows ConPTY.
type PtyHandle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
