package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpilot/termpilot/internal/common/logger"
)

type eventCollector struct {
	mu     sync.Mutex
	events []*Event
}

func (c *eventCollector) handle(_ context.Context, e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	c := &eventCollector{}
	sub, err := b.Subscribe(SubjectSessionCreated, c.handle)
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	event := NewEvent(SubjectSessionCreated, "test", map[string]any{"session_id": "s1"})
	require.NoError(t, b.Publish(context.Background(), SubjectSessionCreated, event))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMemoryBusWildcards(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	single := &eventCollector{}
	_, err := b.Subscribe("session.*", single.handle)
	require.NoError(t, err)

	all := &eventCollector{}
	_, err = b.Subscribe(">", all.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, SubjectSessionCreated, NewEvent(SubjectSessionCreated, "test", nil)))
	require.NoError(t, b.Publish(ctx, SubjectExecution, NewEvent(SubjectExecution, "test", nil)))

	require.Eventually(t, func() bool { return all.count() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, single.count())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	c := &eventCollector{}
	sub, err := b.Subscribe(SubjectSessionClosed, c.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), SubjectSessionClosed,
		NewEvent(SubjectSessionClosed, "test", nil)))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, c.count())
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	assert.True(t, b.IsConnected())

	b.Close()
	assert.False(t, b.IsConnected())

	err := b.Publish(context.Background(), "any", NewEvent("any", "test", nil))
	assert.Error(t, err)

	_, err = b.Subscribe("any", func(context.Context, *Event) error { return nil })
	assert.Error(t, err)
}
