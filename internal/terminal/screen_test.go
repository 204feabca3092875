package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScreenRendersPlainText(t *testing.T) {
	s := NewScreen(40, 10)
	s.Write([]byte("hello\r\nworld\r\n"))

	lines := s.Lines()
	assert.Equal(t, "hello", lines[0])
	assert.Equal(t, "world", lines[1])
}

func TestScreenTailSkipsBlankRows(t *testing.T) {
	s := NewScreen(40, 10)
	s.Write([]byte("first\r\nsecond\r\n? for shortcuts\r\n"))

	tail := s.TailLines(2)
	assert.Equal(t, []string{"second", "? for shortcuts"}, tail)
}

func TestScreenTailLargerThanContent(t *testing.T) {
	s := NewScreen(40, 10)
	s.Write([]byte("only line"))

	tail := s.TailLines(8)
	assert.Equal(t, []string{"only line"}, tail)
}

// Redraw-in-place must leave the rendered screen showing only the final
// text, which is the whole point of matching rendered output instead of
// the raw byte stream.
func TestScreenAppliesCarriageReturnOverwrite(t *testing.T) {
	s := NewScreen(40, 10)
	s.Write([]byte("working...\resc to undo"))

	tail := s.TailLines(1)
	assert.Len(t, tail, 1)
	assert.Contains(t, tail[0], "esc to undo")
}

func TestScreenResize(t *testing.T) {
	s := NewScreen(40, 10)
	s.Write([]byte("before resize\r\n"))
	s.Resize(100, 30)
	s.Write([]byte("after resize\r\n"))

	lines := s.Lines()
	assert.Len(t, lines, 30)
}
