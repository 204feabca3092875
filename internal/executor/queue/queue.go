// Package queue provides a bounded priority queue of pending prompts for
// the asynchronous execution path.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the queue is at max capacity
	ErrQueueFull = errors.New("queue is full")
	// ErrPromptExists is returned when a prompt id is already queued
	ErrPromptExists = errors.New("prompt already exists in queue")
)

// QueuedPrompt is one pending prompt awaiting execution.
type QueuedPrompt struct {
	ID        string
	SessionID string
	Prompt    string
	Priority  int // Higher priority = processed first
	QueuedAt  time.Time
	index     int // Index in the heap (used by container/heap)
}

// promptHeap implements heap.Interface for the priority queue
type promptHeap []*QueuedPrompt

func (h promptHeap) Len() int { return len(h) }

func (h promptHeap) Less(i, j int) bool {
	// Higher priority first, then earlier queued time
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}

func (h promptHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *promptHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*QueuedPrompt)
	item.index = n
	*h = append(*h, item)
}

func (h *promptHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// PromptQueue manages the priority queue of pending prompts.
type PromptQueue struct {
	mu        sync.RWMutex
	heap      promptHeap
	promptMap map[string]*QueuedPrompt // For quick lookup by prompt ID
	maxSize   int
}

// New creates a new prompt queue. A maxSize of zero means unbounded.
func New(maxSize int) *PromptQueue {
	q := &PromptQueue{
		heap:      make(promptHeap, 0),
		promptMap: make(map[string]*QueuedPrompt),
		maxSize:   maxSize,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a prompt to the queue.
// Returns an error if the queue is full or the id already exists.
func (q *PromptQueue) Enqueue(p *QueuedPrompt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.promptMap[p.ID]; exists {
		return ErrPromptExists
	}

	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}

	if p.QueuedAt.IsZero() {
		p.QueuedAt = time.Now()
	}

	heap.Push(&q.heap, p)
	q.promptMap[p.ID] = p
	return nil
}

// Dequeue removes and returns the highest priority prompt.
// Returns nil if the queue is empty.
func (q *PromptQueue) Dequeue() *QueuedPrompt {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}

	p := heap.Pop(&q.heap).(*QueuedPrompt)
	delete(q.promptMap, p.ID)
	return p
}

// Remove removes a specific prompt from the queue.
func (q *PromptQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, exists := q.promptMap[id]
	if !exists {
		return false
	}

	heap.Remove(&q.heap, p.index)
	delete(q.promptMap, id)
	return true
}

// Len returns the number of queued prompts.
func (q *PromptQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.heap)
}

// IsFull returns true if the queue is at max capacity.
func (q *PromptQueue) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.maxSize > 0 && len(q.heap) >= q.maxSize
}
