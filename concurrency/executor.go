// Package concurrency implements the fixed-size worker pool that drains
// the engine's ready queue, adapted from core/concurrency/executor.go's
// worker/run loop. Its dynamic resize machinery and per-worker lock-free
// local queues are dropped: closures submitted by the same
// goroutine must run in program order, a guarantee a work-stealing pool
// cannot make without extra bookkeeping, so every worker here drains the
// single taskqueue.Queue
// (see package taskqueue's doc comment for the full rationale).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"runtime"
	"sync"

	"github.com/momentics/ioengine/affinity"
	"github.com/momentics/ioengine/taskqueue"
)

// Executor runs submitted closures on a fixed pool of goroutines.
type Executor struct {
	ready   *taskqueue.Queue
	wg      sync.WaitGroup
	closed  bool
	closeMu sync.Mutex
}

// New creates an Executor with numWorkers goroutines (runtime.NumCPU() if
// numWorkers <= 0, matching core/concurrency/executor.go's NewExecutor).
func New(numWorkers int) *Executor {
	return newExecutor(numWorkers, false)
}

// NewPinned behaves like New but additionally pins each worker's OS thread
// to a distinct logical CPU via affinity.SetAffinity, cycling through
// runtime.NumCPU() cores when numWorkers exceeds them. Pinning failures are
// silently ignored: on platforms without an affinity implementation workers
// simply float, matching affinity_stub.go's neutral fallback.
func NewPinned(numWorkers int) *Executor {
	return newExecutor(numWorkers, true)
}

func newExecutor(numWorkers int, pin bool) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{ready: taskqueue.New()}
	ncpu := runtime.NumCPU()
	for i := 0; i < numWorkers; i++ {
		e.wg.Add(1)
		cpuID := -1
		if pin {
			cpuID = i % ncpu
		}
		go e.worker(cpuID)
	}
	return e
}

func (e *Executor) worker(cpuID int) {
	defer e.wg.Done()
	if cpuID >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		_ = affinity.SetAffinity(cpuID)
	}
	for {
		c, ok := e.ready.Pop()
		if !ok {
			return
		}
		safeRun(c)
	}
}

// safeRun executes a closure, containing a panic to the worker's own frame
// the way core/concurrency/executor.go's worker.safeExecute does — a
// misbehaving callback must not take down the whole pool.
func safeRun(c taskqueue.Closure) {
	defer func() { _ = recover() }()
	c()
}

// Submit enqueues a closure for execution on a worker goroutine. It never
// blocks the caller.
func (e *Executor) Submit(c taskqueue.Closure) bool {
	e.closeMu.Lock()
	closed := e.closed
	e.closeMu.Unlock()
	if closed {
		return false
	}
	e.ready.Push(c)
	return true
}

// Close stops accepting new work and waits for all workers to drain and
// exit, matching core/concurrency/executor.go's Close.
func (e *Executor) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()
	e.ready.Close()
	e.wg.Wait()
}
