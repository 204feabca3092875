package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/config"
	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/executor/queue"
)

// ChainRunner executes prompt chains sequentially and services a background
// queue for fire-and-forget prompts. A chain stops at the first step that
// does not complete; later steps are never dispatched.
type ChainRunner struct {
	exec    *Executor
	pending *queue.PromptQueue
	delay   time.Duration
	log     *logger.Logger
	wake    chan struct{}
}

// NewChainRunner creates a ChainRunner with a queue bounded by the
// configured size.
func NewChainRunner(exec *Executor, cfg config.ExecutionConfig, log *logger.Logger) *ChainRunner {
	return &ChainRunner{
		exec:    exec,
		pending: queue.New(cfg.QueueSize),
		delay:   cfg.StepDelay(),
		log:     log,
		wake:    make(chan struct{}, 1),
	}
}

// Run executes prompts in order against one session, waiting the configured
// delay between steps. It returns the results of the steps that ran; a step
// ending in failed or cancelled aborts the remainder without error.
func (r *ChainRunner) Run(ctx context.Context, sessionID string, prompts []string) ([]Result, error) {
	results := make([]Result, 0, len(prompts))
	for i, prompt := range prompts {
		res, err := r.exec.Execute(ctx, sessionID, prompt)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.State != StateCompleted {
			r.log.WithSessionID(sessionID).Warn("chain aborted",
				zap.Int("step", i), zap.String("state", string(res.State)))
			return results, nil
		}
		if i < len(prompts)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return results, nil
}

// Enqueue adds a prompt to the background queue and returns its id.
func (r *ChainRunner) Enqueue(sessionID, prompt string, priority int) (string, error) {
	id := uuid.New().String()
	err := r.pending.Enqueue(&queue.QueuedPrompt{
		ID:        id,
		SessionID: sessionID,
		Prompt:    prompt,
		Priority:  priority,
	})
	if err != nil {
		return "", err
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// QueueLen returns the number of prompts waiting in the background queue.
func (r *ChainRunner) QueueLen() int {
	return r.pending.Len()
}

// Start runs the background worker until ctx is cancelled. Busy sessions
// get their prompt requeued and retried after the step delay.
func (r *ChainRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-ticker.C:
		}
		r.drain(ctx)
	}
}

func (r *ChainRunner) drain(ctx context.Context) {
	for {
		item := r.pending.Dequeue()
		if item == nil {
			return
		}

		res, err := r.exec.Execute(ctx, item.SessionID, item.Prompt)
		if errors.Is(err, ErrAlreadyExecuting) {
			// Session is busy with a foreground execution; retry later.
			if qErr := r.pending.Enqueue(item); qErr != nil {
				r.log.WithSessionID(item.SessionID).WithError(qErr).Warn("requeue failed, dropping prompt")
			}
			return
		}
		if err != nil {
			r.log.WithSessionID(item.SessionID).WithError(err).Warn("queued prompt failed")
			continue
		}
		r.log.WithSessionID(item.SessionID).WithExecutionID(res.ExecutionID).Debug("queued prompt finished",
			zap.String("state", string(res.State)))
	}
}
