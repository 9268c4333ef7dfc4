// Package idle implements the client-side idle tracker: a lock-free
// five-state machine that turns a stream of concurrent call arrival and
// departure events into a single deferred "channel went idle" signal.
//
// It is a direct port of grpc_core::ChannelData from
// original_source/src/core/ext/filters/client_idle/client_idle_filter.cc.
// C++'s std::atomic<ChannelState> CAS loops become Go
// atomic.Int32 CompareAndSwap loops; the busy-spin-then-retry discipline
// follows the same pattern core/concurrency/lock_free_queue.go's
// enqueueCell/Dequeue uses.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package idle

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the five operational states plus the Processing sentinel.
type State int32

const (
	// Idle: counter == 0, timer unset.
	Idle State = iota
	// CallsActive: counter > 0, timer unset.
	CallsActive
	// TimerPending: counter == 0, timer armed and valid.
	TimerPending
	// TimerPendingCallsActive: counter > 0, timer armed but stale.
	TimerPendingCallsActive
	// TimerPendingCallsSeenSinceTimerStart: counter == 0, timer armed,
	// stale-but-rearmable.
	TimerPendingCallsSeenSinceTimerStart
	// processing is a transient sentinel serializing rare work; never
	// observed by callers.
	processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case CallsActive:
		return "CallsActive"
	case TimerPending:
		return "TimerPending"
	case TimerPendingCallsActive:
		return "TimerPendingCallsActive"
	case TimerPendingCallsSeenSinceTimerStart:
		return "TimerPendingCallsSeenSinceTimerStart"
	case processing:
		return "Processing"
	default:
		return "Unknown"
	}
}

// Tracker is the idle-tracker state machine. The zero Tracker is not
// usable; construct one with New.
type Tracker struct {
	state   atomic.Int32
	counter atomic.Int64

	idleTimeout time.Duration
	onEnterIdle func()

	// idleSignal carries the enter-idle event from the state-machine
	// goroutine to dispatchLoop: a single buffered (capacity 1),
	// non-blocking send, so a caller's onTimerFire never blocks on, and
	// never directly invokes, onEnterIdle. This is what lets onTimerFire
	// emit while state is still processing and only store Idle afterward, instead of storing Idle before emitting to
	// avoid a reentrant onEnterIdle deadlocking against itself.
	idleSignal chan struct{}
	stop       chan struct{}

	// lastIdleTime is guarded by the state machine itself: it is written
	// only by the thread that observes the counter transition to zero
	// (before a release store), and read only by the thread that observes
	// the corresponding acquire load.
	lastIdleTime time.Time

	timerMu sync.Mutex
	timer   *time.Timer

	shutdown atomic.Bool
}

// New constructs a Tracker in the Idle state and starts its dispatch
// goroutine. onEnterIdle is invoked at most once per idle span, from that
// dedicated goroutine rather than from the timer fire that detects the
// transition, so a reentrant call back into IncreaseCount/Disconnect from
// inside onEnterIdle cannot deadlock against the state machine.
func New(idleTimeout time.Duration, onEnterIdle func()) *Tracker {
	t := &Tracker{
		idleTimeout: idleTimeout,
		onEnterIdle: onEnterIdle,
		idleSignal:  make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	go t.dispatchLoop()
	return t
}

// dispatchLoop runs onEnterIdle off the state-machine goroutine, once per
// received signal, until Disconnect closes stop. Because it never runs on
// the same goroutine as a CAS loop above, a reentrant onEnterIdle that
// calls back into IncreaseCount/Disconnect cannot deadlock against a
// caller still spinning through processing.
func (t *Tracker) dispatchLoop() {
	for {
		select {
		case <-t.idleSignal:
			if t.onEnterIdle != nil {
				t.onEnterIdle()
			}
		case <-t.stop:
			return
		}
	}
}

// Count returns the current outstanding call count.
func (t *Tracker) Count() int64 { return t.counter.Load() }

// State returns the current state, for tests and diagnostics only.
func (t *Tracker) State() State { return State(t.state.Load()) }

// spin yields the processor, backing off to a short sleep under sustained
// contention rather than spinning indefinitely.
func spin(attempt int) {
	if attempt < 64 {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Microsecond)
}

// IncreaseCount registers a new active call. If the channel was idle, it
// transitions out of idle, cancelling any logical timer arm.
func (t *Tracker) IncreaseCount() {
	prev := t.counter.Add(1) - 1
	if prev != 0 {
		return
	}
	for attempt := 0; ; attempt++ {
		s := State(t.state.Load())
		switch s {
		case Idle:
			// Exclusive: only the thread observing 0->1 reaches here, and
			// no concurrent writer can be mutating state out from under it.
			t.state.Store(int32(CallsActive))
			return
		case TimerPending, TimerPendingCallsSeenSinceTimerStart:
			// The timer callback may concurrently be switching state to
			// Idle or re-arming; CAS with acquire so we observe a
			// consistent lastIdleTime if we race past it.
			if t.state.CompareAndSwap(int32(s), int32(TimerPendingCallsActive)) {
				return
			}
		default:
			spin(attempt)
		}
	}
}

// DecreaseCount records a call's completion. If this was the last active
// call, it records last-idle time and arms the idle timer.
func (t *Tracker) DecreaseCount() {
	prev := t.counter.Add(-1) + 1
	if prev != 1 {
		return
	}
	t.lastIdleTime = time.Now()
	for attempt := 0; ; attempt++ {
		s := State(t.state.Load())
		switch s {
		case CallsActive:
			t.startTimer(t.idleTimeout)
			t.state.Store(int32(TimerPending))
			return
		case TimerPendingCallsActive:
			if t.state.CompareAndSwap(int32(s), int32(TimerPendingCallsSeenSinceTimerStart)) {
				return
			}
		default:
			spin(attempt)
		}
	}
}

func (t *Tracker) startTimer(d time.Duration) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	t.timer = time.AfterFunc(d, func() {
		t.onTimerFire()
	})
}

func (t *Tracker) stopTimer() {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// onTimerFire is the timer callback; it implements timer_fires(cancelled?),
// consulting the shutdown flag for the "cancelled" input since Go's
// time.Timer does not deliver a cancellation value.
func (t *Tracker) onTimerFire() {
	if t.shutdown.Load() {
		return
	}
	for attempt := 0; ; attempt++ {
		s := State(t.state.Load())
		switch s {
		case TimerPending:
			if t.state.CompareAndSwap(int32(TimerPending), int32(processing)) {
				// Emit while still in processing: a concurrent
				// IncreaseCount may already have bumped the counter, but
				// it spins on processing and cannot move the state out of
				// idle until Idle is stored below, so its transition is
				// ordered after this emission.
				// The send is non-blocking and returns immediately, so
				// storing Idle right after does not expose a window for a
				// concurrent IncreaseCount to observe Idle before the
				// signal has been queued.
				if !t.shutdown.Load() {
					select {
					case t.idleSignal <- struct{}{}:
					default:
					}
				}
				t.state.Store(int32(Idle))
				return
			}
		case TimerPendingCallsActive:
			if t.state.CompareAndSwap(int32(TimerPendingCallsActive), int32(CallsActive)) {
				return
			}
		case TimerPendingCallsSeenSinceTimerStart:
			if t.state.CompareAndSwap(int32(TimerPendingCallsSeenSinceTimerStart), int32(processing)) {
				remaining := t.lastIdleTime.Add(t.idleTimeout).Sub(time.Now())
				if remaining < 0 {
					remaining = 0
				}
				t.startTimer(remaining)
				t.state.Store(int32(TimerPending))
				return
			}
		default:
			spin(attempt)
		}
	}
}

// Disconnect permanently parks the tracker away from Idle/TimerPending (via
// a synthetic, never-decremented IncreaseCount) and cancels the pending
// timer. After Disconnect, no further EnterIdle is emitted, even if a
// timer fire was already in flight when Disconnect was called.
func (t *Tracker) Disconnect() {
	t.shutdown.Store(true)
	t.IncreaseCount()
	t.stopTimer()
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}
