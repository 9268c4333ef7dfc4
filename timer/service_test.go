package timer_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/taskqueue"
	"github.com/momentics/ioengine/timer"
)

func newService(t *testing.T) (*timer.Service, *concurrency.Executor) {
	exec := concurrency.New(4)
	s := timer.New(exec)
	t.Cleanup(func() {
		s.Close()
		exec.Close()
	})
	return s, exec
}

func TestRunNowExecutesExactlyOnce(t *testing.T) {
	s, _ := newService(t)
	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	s.RunNow(func() {
		n.Add(1)
		wg.Done()
	})
	wg.Wait()
	if n.Load() != 1 {
		t.Fatalf("n = %d, want 1", n.Load())
	}
}

func TestRunAtFiresInDeadlineOrder(t *testing.T) {
	s, _ := newService(t)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	now := time.Now()
	wg.Add(3)
	s.RunAt(now.Add(60*time.Millisecond), func() {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		wg.Done()
	})
	s.RunAt(now.Add(10*time.Millisecond), func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	})
	s.RunAt(now.Add(35*time.Millisecond), func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		wg.Done()
	})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got order %v, want [1 2 3]", order)
	}
}

func TestCancelBeforeDeadlinePreventsExecution(t *testing.T) {
	s, _ := newService(t)
	var n atomic.Int32
	h := s.RunAt(time.Now().Add(100*time.Millisecond), func() { n.Add(1) })

	if ok := s.Cancel(h); !ok {
		t.Fatal("Cancel returned false for an uncontested pending timer")
	}
	time.Sleep(150 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("cancelled closure ran, n = %d", n.Load())
	}
}

func TestCancelAfterFireReturnsFalse(t *testing.T) {
	s, _ := newService(t)
	var wg sync.WaitGroup
	wg.Add(1)
	h := s.RunAt(time.Now().Add(5*time.Millisecond), func() { wg.Done() })
	wg.Wait()
	time.Sleep(10 * time.Millisecond) // let Complete land

	if ok := s.Cancel(h); ok {
		t.Fatal("Cancel returned true for an already-fired timer")
	}
}

// TestScheduleCancelRaceAccountsForEveryHandle exercises ten thousand
// schedule/cancel pairs under contention: for every handle, either its
// closure ran or Cancel reported success, never both, never neither.
func TestScheduleCancelRaceAccountsForEveryHandle(t *testing.T) {
	const n = 10000
	s, _ := newService(t)

	var ran atomic.Int64
	handles := make([]taskqueue.Handle, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		handles[i] = s.RunAt(time.Now().Add(20*time.Millisecond), func() {
			ran.Add(1)
			wg.Done()
		})
	}

	var cancelled atomic.Int64
	var cwg sync.WaitGroup
	for i := 0; i < n; i++ {
		cwg.Add(1)
		h := handles[i]
		go func() {
			defer cwg.Done()
			if s.Cancel(h) {
				cancelled.Add(1)
				wg.Done() // this closure will never run; account for its wg.Add(1)
			}
		}()
	}
	cwg.Wait()
	wg.Wait()

	if got := ran.Load() + cancelled.Load(); got != n {
		t.Fatalf("ran(%d) + cancelled(%d) = %d, want %d", ran.Load(), cancelled.Load(), got, n)
	}
}
