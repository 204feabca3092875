package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpilot/termpilot/internal/common/config"
	apperrors "github.com/termpilot/termpilot/internal/common/errors"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/events/bus"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	available bool
	fail      bool
	sent      []string
	gate      chan struct{}
}

func (d *fakeDispatcher) Dispatch(sessionID, text string) bool {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.available || d.fail {
		return false
	}
	d.sent = append(d.sent, text)
	return true
}

func (d *fakeDispatcher) IsAvailable(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

func (d *fakeDispatcher) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *fakeDispatcher) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

// setGate makes Dispatch block until the channel is closed, standing in for
// a pty write that stalls.
func (d *fakeDispatcher) setGate(gate chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

type fakeOutput struct {
	mu    sync.Mutex
	alive bool
	lines []string
	scans int
}

func (o *fakeOutput) TailLines(n int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scans++
	return append([]string(nil), o.lines...)
}

func (o *fakeOutput) scanCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scans
}

func (o *fakeOutput) Alive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alive
}

func (o *fakeOutput) set(alive bool, lines ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alive = alive
	o.lines = lines
}

type fakeToucher struct {
	mu      sync.Mutex
	touched []string
}

func (t *fakeToucher) Touch(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched = append(t.touched, sessionID)
}

func (t *fakeToucher) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.touched)
}

type testHarness struct {
	exec    *Executor
	routes  *fakeDispatcher
	output  *fakeOutput
	toucher *fakeToucher
}

func newHarness(t *testing.T, mutate func(*config.ExecutionConfig, *config.DetectionConfig)) *testHarness {
	t.Helper()
	execCfg := config.ExecutionConfig{TimeoutMs: 0, StepDelayMs: 10, QueueSize: 10}
	detCfg := config.DetectionConfig{
		PollIntervalMs: 20,
		IdleMarkers:    []string{"? for shortcuts"},
		TailLines:      8,
	}
	if mutate != nil {
		mutate(&execCfg, &detCfg)
	}

	routes := &fakeDispatcher{available: true}
	output := &fakeOutput{alive: true, lines: []string{"working..."}}
	toucher := &fakeToucher{}
	log := logger.Default()

	exec := New(execCfg, detCfg, routes,
		func(string) (OutputTailer, error) { return output, nil },
		PassthroughResolver{}, toucher, bus.NewMemoryEventBus(log), log)

	return &testHarness{exec: exec, routes: routes, output: output, toucher: toucher}
}

func startExecution(t *testing.T, h *testHarness, sessionID, prompt string) <-chan Result {
	t.Helper()
	results := make(chan Result, 1)
	go func() {
		res, _ := h.exec.Execute(context.Background(), sessionID, prompt)
		results <- res
	}()
	// Wait until the execution is registered as in flight.
	deadline := time.Now().Add(2 * time.Second)
	for h.exec.StateOf(sessionID) != StateExecuting {
		if time.Now().After(deadline) {
			t.Fatal("execution never became in flight")
		}
		time.Sleep(time.Millisecond)
	}
	return results
}

func TestExecutePushCompletion(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	require.True(t, h.exec.HandleCompletion("s1", SourcePush))

	res := <-results
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, SourcePush, res.Source)
	assert.Equal(t, 1, h.toucher.count())
	assert.Equal(t, StateIdle, h.exec.StateOf("s1"))
}

func TestExecuteSingleFlight(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "first")

	_, err := h.exec.Execute(context.Background(), "s1", "second")
	assert.ErrorIs(t, err, ErrAlreadyExecuting)

	h.exec.HandleCompletion("s1", SourcePush)
	<-results

	// After completion a new execution is accepted again.
	done := startExecution(t, h, "s1", "third")
	h.exec.HandleCompletion("s1", SourcePush)
	res := <-done
	assert.Equal(t, StateCompleted, res.State)
}

func TestDuplicateCompletionIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	assert.True(t, h.exec.HandleCompletion("s1", SourcePush))
	assert.False(t, h.exec.HandleCompletion("s1", SourcePoll))
	<-results
	assert.False(t, h.exec.HandleCompletion("s1", SourcePush))
}

func TestCompletionWithoutExecution(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.exec.HandleCompletion("nobody", SourcePush))
}

func TestCompletionForOtherSessionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	assert.False(t, h.exec.HandleCompletion("s2", SourcePush))
	assert.Equal(t, StateExecuting, h.exec.StateOf("s1"))

	h.exec.HandleCompletion("s1", SourcePush)
	res := <-results
	assert.Equal(t, StateCompleted, res.State)
}

func TestDispatchFailureFailsExecution(t *testing.T) {
	h := newHarness(t, nil)
	h.routes.fail = true

	res, err := h.exec.Execute(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "dispatch failed", res.Detail)
	assert.Zero(t, h.toucher.count())
}

func TestUnavailableSessionRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.routes.available = false

	_, err := h.exec.Execute(context.Background(), "s1", "hello")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestUnresolvedTemplateFailsExecution(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.exec.Execute(context.Background(), "s1", "deploy {{target}}")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Detail, "target")
	assert.Zero(t, h.routes.sentCount())
	assert.Equal(t, StateIdle, h.exec.StateOf("s1"))
}

func TestExecuteTargetsActiveSession(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.SetActiveLookup(func() (string, bool) { return "active-session", true })

	results := make(chan Result, 1)
	go func() {
		res, _ := h.exec.Execute(context.Background(), "", "hello")
		results <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.exec.StateOf("active-session") != StateExecuting {
		if time.Now().After(deadline) {
			t.Fatal("execution never targeted the active session")
		}
		time.Sleep(time.Millisecond)
	}

	h.exec.HandleCompletion("active-session", SourcePush)
	res := <-results
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "active-session", res.SessionID)
}

func TestExecuteWithoutActiveSession(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec.Execute(context.Background(), "", "hello")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestPollCompletion(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	// Agent goes idle; the watcher should pick it up and complete.
	h.output.set(true, "done", "? for shortcuts")

	select {
	case res := <-results:
		assert.Equal(t, StateCompleted, res.State)
		assert.Equal(t, SourcePoll, res.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("poll completion never fired")
	}
}

func TestPollFailsWhenProcessDies(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	h.output.set(false)

	select {
	case res := <-results:
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, "agent process exited", res.Detail)
	case <-time.After(2 * time.Second):
		t.Fatal("death detection never fired")
	}
}

func TestExecutionTimeout(t *testing.T) {
	h := newHarness(t, func(e *config.ExecutionConfig, d *config.DetectionConfig) {
		e.TimeoutMs = 30
		// Keep the poller from completing first.
		d.IdleMarkers = []string{"never-on-screen"}
	})
	results := startExecution(t, h, "s1", "hello")

	select {
	case res := <-results:
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, "execution timed out", res.Detail)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)
	results := startExecution(t, h, "s1", "hello")

	require.NoError(t, h.exec.Cancel("s1"))
	res := <-results
	assert.Equal(t, StateCancelled, res.State)

	err := h.exec.Cancel("s1")
	assert.Error(t, err)
}

func TestCancelDuringSendingLeavesNoWatcher(t *testing.T) {
	h := newHarness(t, nil)
	h.output.set(true, "? for shortcuts")
	gate := make(chan struct{})
	h.routes.setGate(gate)

	results := make(chan Result, 1)
	go func() {
		res, _ := h.exec.Execute(context.Background(), "s1", "hello")
		results <- res
	}()

	require.Eventually(t, func() bool {
		return h.exec.StateOf("s1") == StateSending
	}, 2*time.Second, time.Millisecond)

	// Cancel while the pty write is stalled, then let the write finish.
	require.NoError(t, h.exec.Cancel("s1"))
	close(gate)

	res := <-results
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, StateIdle, h.exec.StateOf("s1"))

	// The poll watcher must not be scanning output for a finished
	// execution, even though the screen looks idle.
	baseline := h.output.scanCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, baseline, h.output.scanCount())
}

func TestPushDisablesPolling(t *testing.T) {
	h := newHarness(t, func(e *config.ExecutionConfig, d *config.DetectionConfig) {
		d.DisablePollAfterPush = true
		// Screen always looks idle; only the push path should complete.
		d.PollIntervalMs = 10
	})
	h.output.set(true, "? for shortcuts")

	// First execution: poll is allowed and completes.
	res, err := h.exec.Execute(context.Background(), "s1", "one")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	// A push signal outside any execution still marks the session.
	h.exec.HandleCompletion("s1", SourcePush)

	results := startExecution(t, h, "s1", "two")
	select {
	case <-results:
		t.Fatal("poll completed despite push-only mode")
	case <-time.After(100 * time.Millisecond):
	}

	h.exec.HandleCompletion("s1", SourcePush)
	final := <-results
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, SourcePush, final.Source)
}

func TestExecuteCallerCancellation(t *testing.T) {
	h := newHarness(t, func(e *config.ExecutionConfig, d *config.DetectionConfig) {
		d.IdleMarkers = []string{"never-on-screen"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := h.exec.Execute(ctx, "s1", "hello")
		results <- res
		errs <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.exec.StateOf("s1") != StateExecuting {
		if time.Now().After(deadline) {
			t.Fatal("execution never became in flight")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	res := <-results
	assert.Equal(t, StateCancelled, res.State)
	assert.True(t, errors.Is(<-errs, context.Canceled))
}
