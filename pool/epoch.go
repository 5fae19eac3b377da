package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// epoch tracks read-side sections of lock-free lookups.
// Readers register in the counter that belongs to the parity of the
// current generation. synchronize flips the generation and waits until
// the counter of the old parity drained; after that, no reader that
// started before the call can still be running.
type epoch struct {
	gen     atomic.Uint64
	readers [2]atomic.Int64

	// serializes writers
	mu sync.Mutex
}

// readLock enters a read-side section. The returned slot
// must be passed to readUnlock. Sections may be nested.
func (ep *epoch) readLock() uint64 {
	for {
		gen := ep.gen.Load()
		slot := gen & 1
		ep.readers[slot].Add(1)
		if ep.gen.Load() == gen {
			return slot
		}

		// A writer flipped in between; it might not have seen us.
		ep.readers[slot].Add(-1)
	}
}

func (ep *epoch) readUnlock(slot uint64) {
	if ep.readers[slot].Add(-1) < 0 {
		panic("bug: unbalanced epoch read unlock")
	}
}

// synchronize waits for a grace period.
// It must never be called from inside a read-side section.
func (ep *epoch) synchronize() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	old := ep.gen.Add(1) - 1
	for ep.readers[old&1].Load() != 0 {
		runtime.Gosched()
	}
}
