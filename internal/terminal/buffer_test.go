package terminal

import (
	"strings"
	"testing"
)

func TestRingBufferTail(t *testing.T) {
	b := newRingBuffer(1024)
	b.append("hello ")
	b.append("world")

	if got := b.tail(5); got != "world" {
		t.Errorf("tail(5) = %q, want %q", got, "world")
	}
	if got := b.tail(100); got != "hello world" {
		t.Errorf("tail(100) = %q, want %q", got, "hello world")
	}
}

func TestRingBufferEviction(t *testing.T) {
	b := newRingBuffer(10)
	b.append("aaaaa")
	b.append("bbbbb")
	b.append("ccccc") // evicts the oldest chunk

	got := b.tail(100)
	if strings.Contains(got, "a") {
		t.Errorf("expected oldest chunk evicted, got %q", got)
	}
	if !strings.HasSuffix(got, "ccccc") {
		t.Errorf("expected newest data retained, got %q", got)
	}
}

func TestRingBufferEmpty(t *testing.T) {
	b := newRingBuffer(10)
	if got := b.tail(5); got != "" {
		t.Errorf("tail of empty buffer = %q, want empty", got)
	}
}
