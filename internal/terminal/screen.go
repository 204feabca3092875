package terminal

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// Screen renders pty output through a virtual terminal emulator so that
// detection code sees the same text a user would, with escape sequences and
// cursor movement already applied. Matching raw byte streams directly would
// false-negative on agents that redraw their prompt in place.
type Screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

// NewScreen creates a screen with the given dimensions.
func NewScreen(cols, rows int) *Screen {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Write feeds raw pty output to the virtual terminal.
func (s *Screen) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write(data)
}

// Resize updates the virtual terminal size.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Resize(cols, rows)
	s.cols = cols
	s.rows = rows
}

// Lines returns all visible lines, top to bottom, right-trimmed.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, s.rows)
	for row := 0; row < s.rows; row++ {
		var rowChars []rune
		for col := 0; col < s.cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				rowChars = append(rowChars, ' ')
			} else {
				rowChars = append(rowChars, g.Char)
			}
		}
		lines[row] = strings.TrimRight(string(rowChars), " \t")
	}
	return lines
}

// TailLines returns the last n non-empty visible lines, bottom-anchored.
// Trailing blank rows below the prompt are skipped so that marker matching
// always sees the region the agent last drew into.
func (s *Screen) TailLines(n int) []string {
	lines := s.Lines()

	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return lines[start:end]
}
