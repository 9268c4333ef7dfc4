package taskqueue

import (
	"sync"
	"sync/atomic"
)

// Handle is the opaque two-word cancellation identifier: a slot index plus
// a generation counter, adapted from
// EventEngine::TaskHandle{keys[2]} (original_source's event_engine.h) and
// made ABA-safe the way pool/ring.go's power-of-two index discipline keeps
// a ring buffer's head/tail from colliding across wraps.
type Handle struct {
	Slot       int32
	Generation uint32
}

// Zero reports whether h is the zero Handle (never issued by Alloc).
func (h Handle) Zero() bool { return h.Slot == 0 && h.Generation == 0 }

const (
	stateFree = iota
	statePending
	stateDispatched
	stateCancelled
)

type entry struct {
	generation atomic.Uint32
	state      atomic.Int32
	abort      func()
}

// Table is an ABA-safe slot allocator for cancellable operations: scheduled
// tasks, timers, DNS lookups, and in-flight connects all share this scheme
// so that cancelling a stale handle after its slot has been reused returns
// false rather than affecting the new occupant.
type Table struct {
	mu    sync.Mutex
	slots []*entry
	free  []int32
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{}
}

// Alloc reserves a slot and returns its Handle. abort, if non-nil, is
// invoked by Cancel when the operation is already dispatched/in-flight and
// cancellation can only be attempted best-effort, as with CancelConnect.
func (t *Table) Alloc(abort func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = int32(len(t.slots))
		fresh := &entry{}
		// Generations start at 1 so the zero Handle is never issued.
		fresh.generation.Store(1)
		t.slots = append(t.slots, fresh)
	}
	e := t.slots[idx]
	e.abort = abort
	e.state.Store(statePending)
	gen := e.generation.Load()
	return Handle{Slot: idx, Generation: gen}
}

func (t *Table) lookup(h Handle) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.Slot < 0 || int(h.Slot) >= len(t.slots) {
		return nil
	}
	e := t.slots[h.Slot]
	if e.generation.Load() != h.Generation {
		return nil
	}
	return e
}

// TryDispatch transitions the handle from Pending to Dispatched. The
// dispatching goroutine must call this immediately before running the
// associated work; if it returns false the work must not run — it has
// already been cancelled.
func (t *Table) TryDispatch(h Handle) bool {
	e := t.lookup(h)
	if e == nil {
		return false
	}
	return e.state.CompareAndSwap(statePending, stateDispatched)
}

// Cancel attempts to prevent the handle's work from ever running. It
// implements a crisp contract: on true, the callback is guaranteed to
// never run; on false, it will run to completion independently (or has
// already done so).
func (t *Table) Cancel(h Handle) bool {
	e := t.lookup(h)
	if e == nil {
		return false
	}
	if e.state.CompareAndSwap(statePending, stateCancelled) {
		t.free_(h)
		return true
	}
	if e.abort != nil {
		e.abort()
	}
	return false
}

// Complete releases the slot after the dispatched work has finished
// running (or was never dispatched because Alloc was followed directly by
// a decision not to proceed). Safe to call at most once per handle.
func (t *Table) Complete(h Handle) {
	t.free_(h)
}

func (t *Table) free_(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.Slot < 0 || int(h.Slot) >= len(t.slots) {
		return
	}
	e := t.slots[h.Slot]
	if e.generation.Load() != h.Generation {
		return
	}
	e.generation.Add(1)
	e.state.Store(stateFree)
	e.abort = nil
	t.free = append(t.free, h.Slot)
}
