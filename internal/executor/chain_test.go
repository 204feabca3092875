package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpilot/termpilot/internal/common/config"
	"github.com/termpilot/termpilot/internal/common/logger"
)

func newChainHarness(t *testing.T) (*testHarness, *ChainRunner) {
	t.Helper()
	h := newHarness(t, func(e *config.ExecutionConfig, d *config.DetectionConfig) {
		e.StepDelayMs = 5
		d.PollIntervalMs = 10
	})
	// Every execution completes via poll: the screen always shows the idle
	// marker after the settling tick.
	h.output.set(true, "? for shortcuts")
	return h, NewChainRunner(h.exec, config.ExecutionConfig{StepDelayMs: 5, QueueSize: 10}, logger.Default())
}

func TestChainRunsAllSteps(t *testing.T) {
	h, chains := newChainHarness(t)

	results, err := chains.Run(context.Background(), "s1", []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, StateCompleted, res.State)
	}
	assert.Equal(t, []string{"one\n", "two\n", "three\n"}, h.routes.sent)
}

func TestChainAbortsOnFailure(t *testing.T) {
	h, chains := newChainHarness(t)

	// First step dispatches fine, then the dispatcher starts failing so the
	// second step ends in failed and the third never runs.
	go func() {
		for h.routes.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		h.routes.setFail(true)
	}()

	results, err := chains.Run(context.Background(), "s1", []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StateCompleted, results[0].State)
	assert.Equal(t, StateFailed, results[1].State)
}

func TestChainEnqueueAndDrain(t *testing.T) {
	_, chains := newChainHarness(t)

	id, err := chains.Enqueue("s1", "queued prompt", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, chains.QueueLen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go chains.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for chains.QueueLen() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
