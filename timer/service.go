// Package timer implements the task and timer service: run_now/run_at/
// cancel. api/scheduler.go is a bare interface with no implementation to
// adapt, so this is new code grounded on the ABA-safe handle discipline
// established in package taskqueue and the rearm-on-wake idiom
// core/concurrency/eventloop.go uses around its own time.Timer.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/taskqueue"
)

// Service schedules immediate and deadline-based closures and dispatches
// them through a shared Executor.
type Service struct {
	exec  *concurrency.Executor
	table *taskqueue.Table

	mu     sync.Mutex
	h      *deadlineHeap
	wake   chan struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates a Service that dispatches through exec.
func New(exec *concurrency.Executor) *Service {
	s := &Service{
		exec:  exec,
		table: taskqueue.NewTable(),
		h:     newDeadlineHeap(),
		wake:  make(chan struct{}, 1),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// RunNow enqueues a closure for earliest-possible execution. Once accepted
// it is uncancelable and will run exactly once.
func (s *Service) RunNow(c taskqueue.Closure) {
	s.exec.Submit(c)
}

// RunAt schedules c to run when wall-clock time reaches deadline. Deadlines
// in the past are dispatched immediately but still via the ready queue,
// never inline.
func (s *Service) RunAt(deadline time.Time, c taskqueue.Closure) taskqueue.Handle {
	h := s.table.Alloc(nil)
	it := &item{deadline: deadline, handle: h, closure: c}

	s.mu.Lock()
	wasEarliest := s.h.Len() == 0 || deadline.Before(s.h.peek().deadline)
	heap.Push(s.h, it)
	s.mu.Unlock()

	if wasEarliest {
		s.signalWake()
	}
	return h
}

// Cancel returns true if the closure had not yet been dispatched and is now
// guaranteed never to run; false if it has already been, or is concurrently
// being, dispatched.
func (s *Service) Cancel(h taskqueue.Handle) bool {
	s.mu.Lock()
	s.h.removeByHandle(h)
	s.mu.Unlock()
	return s.table.Cancel(h)
}

func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the background scheduling loop. Pending deadline closures
// are never dispatched. It does not wait for already-dispatched closures
// running on the Executor to finish — callers that need that should Close
// the Executor separately after this returns.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.signalWake()
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.h.peek()
		if next == nil {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		wait := time.Until(next.deadline)
		if wait > 0 {
			s.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
			}
			continue
		}
		heap.Pop(s.h)
		s.mu.Unlock()
		s.dispatch(next)
	}
}

func (s *Service) dispatch(it *item) {
	if !s.table.TryDispatch(it.handle) {
		return // cancelled concurrently
	}
	h := it.handle
	c := it.closure
	s.exec.Submit(func() {
		defer s.table.Complete(h)
		c()
	})
}
