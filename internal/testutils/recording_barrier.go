package testutils

import (
	"sync"
	"unsafe"

	"github.com/holmberd/go-pmlru/internal/barrier"
)

// FlushedSpan is a range passed to RecordingBarrier.Flush and a copy of its
// contents at the moment it was flushed.
type FlushedSpan struct {
	Addr uintptr
	Data []byte
}

// RecordingBarrier is a barrier.Barrier that flushes nothing and records every span.
type RecordingBarrier struct {
	mu    sync.Mutex
	spans []FlushedSpan
	stats barrier.Stats
}

func (b *RecordingBarrier) Mechanism() barrier.Mechanism {
	return barrier.None
}

func (b *RecordingBarrier) Flush(p []byte) {
	if len(p) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&p[0]))
	_, lines := barrier.Lines(addr, len(p))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.spans = append(b.spans, FlushedSpan{Addr: addr, Data: append([]byte(nil), p...)})
	b.stats.Flushes++
	b.stats.Lines += uint64(lines)
	b.stats.Fences += 2
}

func (b *RecordingBarrier) Stats() barrier.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Spans returns the recorded spans in flush order.
func (b *RecordingBarrier) Spans() []FlushedSpan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]FlushedSpan(nil), b.spans...)
}

// Covered reports whether p lies entirely within a single recorded span.
func (b *RecordingBarrier) Covered(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	addr := uintptr(unsafe.Pointer(&p[0]))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.spans {
		if addr >= s.Addr && addr+uintptr(len(p)) <= s.Addr+uintptr(len(s.Data)) {
			return true
		}
	}
	return false
}

func (b *RecordingBarrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spans = nil
	b.stats = barrier.Stats{}
}
