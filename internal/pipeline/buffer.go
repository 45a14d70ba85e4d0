package pipeline

import (
	"strings"
	"sync"
	"time"
)

// chunkBuffer coalesces rapid streaming deltas so consumers see at most one
// chunk event per flush interval. One buffer belongs to one run; Close
// guarantees a final flush, which the orchestrator performs before any
// later event is emitted.
type chunkBuffer struct {
	mu       sync.Mutex
	pending  strings.Builder
	emit     func(chunk string)
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func newChunkBuffer(interval time.Duration, emit func(chunk string)) *chunkBuffer {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	b := &chunkBuffer{
		emit:     emit,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *chunkBuffer) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

func (b *chunkBuffer) Add(delta string) {
	if delta == "" {
		return
	}
	b.mu.Lock()
	b.pending.WriteString(delta)
	b.mu.Unlock()
}

func (b *chunkBuffer) Flush() {
	b.mu.Lock()
	out := b.pending.String()
	b.pending.Reset()
	b.mu.Unlock()
	if out != "" && b.emit != nil {
		b.emit(out)
	}
}

// Close stops the timer and flushes whatever is pending.
func (b *chunkBuffer) Close() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	<-b.done
	b.Flush()
}
