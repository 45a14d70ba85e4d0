package pipeline

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestChunkBufferCoalescesAndFlushesOnClose(t *testing.T) {
	var mu sync.Mutex
	var flushes []string
	buf := newChunkBuffer(20*time.Millisecond, func(chunk string) {
		mu.Lock()
		flushes = append(flushes, chunk)
		mu.Unlock()
	})

	buf.Add("hello ")
	buf.Add("world")
	time.Sleep(60 * time.Millisecond)
	buf.Add("!")
	buf.Close()

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(flushes, "")
	if joined != "hello world!" {
		t.Fatalf("reassembled = %q, want %q", joined, "hello world!")
	}
	// Deltas added within one interval arrive as a single chunk.
	if len(flushes) > 3 {
		t.Fatalf("got %d flushes for 3 adds in 2 windows, expected coalescing", len(flushes))
	}
}

func TestChunkBufferFinalFlushDeliversPendingText(t *testing.T) {
	var mu sync.Mutex
	got := ""
	buf := newChunkBuffer(time.Hour, func(chunk string) {
		mu.Lock()
		got += chunk
		mu.Unlock()
	})
	buf.Add("tail")
	buf.Close()

	mu.Lock()
	defer mu.Unlock()
	if got != "tail" {
		t.Fatalf("pending text after Close = %q, want %q", got, "tail")
	}
}

func TestChunkBufferIgnoresEmptyDeltas(t *testing.T) {
	calls := 0
	buf := newChunkBuffer(time.Hour, func(string) { calls++ })
	buf.Add("")
	buf.Close()
	if calls != 0 {
		t.Fatalf("emit called %d times for empty input, want 0", calls)
	}
}
