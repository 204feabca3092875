package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/termpilot/termpilot/internal/common/logger"
)

type recordingHandle struct {
	writes []string
	err    error
}

func (h *recordingHandle) Write(data []byte) (int, error) {
	if h.err != nil {
		return 0, h.err
	}
	h.writes = append(h.writes, string(data))
	return len(data), nil
}

type recordingToucher struct {
	touched []string
}

func (t *recordingToucher) Touch(sessionID string) {
	t.touched = append(t.touched, sessionID)
}

func TestDispatchAppendsNewline(t *testing.T) {
	r := NewRegistry(logger.Default())
	h := &recordingHandle{}
	r.Register("s1", h)

	assert.True(t, r.Dispatch("s1", "hello"))
	assert.Equal(t, []string{"hello\n"}, h.writes)
}

func TestDispatchKeepsExistingNewline(t *testing.T) {
	r := NewRegistry(logger.Default())
	h := &recordingHandle{}
	r.Register("s1", h)

	assert.True(t, r.Dispatch("s1", "hello\n"))
	assert.Equal(t, []string{"hello\n"}, h.writes)
}

func TestDispatchUnknownSession(t *testing.T) {
	r := NewRegistry(logger.Default())
	assert.False(t, r.Dispatch("missing", "hello"))
}

func TestDispatchWriteError(t *testing.T) {
	r := NewRegistry(logger.Default())
	toucher := &recordingToucher{}
	r.SetActivityToucher(toucher)
	r.Register("s1", &recordingHandle{err: errors.New("pty closed")})

	assert.False(t, r.Dispatch("s1", "hello"))
	assert.Empty(t, toucher.touched)
}

func TestDispatchTouchesActivity(t *testing.T) {
	r := NewRegistry(logger.Default())
	toucher := &recordingToucher{}
	r.SetActivityToucher(toucher)
	r.Register("s1", &recordingHandle{})

	r.Dispatch("s1", "hello")
	assert.Equal(t, []string{"s1"}, toucher.touched)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(logger.Default())
	r.Register("s1", &recordingHandle{})
	assert.True(t, r.IsAvailable("s1"))

	r.Unregister("s1")
	assert.False(t, r.IsAvailable("s1"))
	assert.False(t, r.Dispatch("s1", "hello"))

	// Unregistering twice is harmless.
	r.Unregister("s1")
}
