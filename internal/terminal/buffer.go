package terminal

import "sync"

// ringBuffer keeps a memory-bounded FIFO of raw output chunks. It preserves
// enough recent output for stale-resume detection and restore-on-reconnect
// without letting a chatty agent grow memory unbounded.
type ringBuffer struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	chunks   []string
}

// newRingBuffer creates a ring buffer with the specified size limit.
// Defaults to 256KB if maxBytes <= 0.
func newRingBuffer(maxBytes int64) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &ringBuffer{maxBytes: maxBytes}
}

// append adds a new output chunk, evicting oldest chunks if over the size limit.
func (b *ringBuffer) append(data string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, data)
	b.size += int64(len(data))

	for b.size > b.maxBytes && len(b.chunks) > 0 {
		removed := b.chunks[0]
		b.size -= int64(len(removed))
		b.chunks = b.chunks[1:]
	}
}

// tail returns up to n bytes from the end of the buffered output.
func (b *ringBuffer) tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int
	start := len(b.chunks)
	for start > 0 && total < n {
		start--
		total += len(b.chunks[start])
	}

	var out string
	for _, chunk := range b.chunks[start:] {
		out += chunk
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
