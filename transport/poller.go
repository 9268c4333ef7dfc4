package transport

import (
	"sync"

	"github.com/momentics/ioengine/reactor"
)

// PollBackend demultiplexes one reactor.Poller across every Endpoint that
// registers a fd with it: a single dedicated goroutine drives Wait,
// waking the registrant's channel instead of each Endpoint parking a
// goroutine in a blocking syscall of its own. Shared by every Listener
// and Connector an engine.Engine constructs with poll_strategy "epoll".
type PollBackend struct {
	poller reactor.Poller

	mu   sync.Mutex
	next uintptr
	wake map[uintptr]chan struct{}
}

// NewPollBackend wraps p, starting the dedicated goroutine that drains
// its Wait loop. p is typically constructed with reactor.NewPoller.
func NewPollBackend(p reactor.Poller) *PollBackend {
	pl := &PollBackend{poller: p, wake: make(map[uintptr]chan struct{})}
	go pl.run()
	return pl
}

// Close shuts down the backend's Wait loop and the underlying Poller.
func (pl *PollBackend) Close() error {
	return pl.poller.Close()
}

// register arms fd for readiness notifications, returning an opaque id
// (for unregister) and the channel that receives a wakeup per event.
func (pl *PollBackend) register(fd uintptr) (uintptr, chan struct{}, error) {
	pl.mu.Lock()
	pl.next++
	id := pl.next
	ch := make(chan struct{}, 1)
	pl.wake[id] = ch
	pl.mu.Unlock()

	if err := pl.poller.Register(fd, id); err != nil {
		pl.mu.Lock()
		delete(pl.wake, id)
		pl.mu.Unlock()
		return 0, nil, err
	}
	return id, ch, nil
}

func (pl *PollBackend) unregister(id uintptr) {
	pl.mu.Lock()
	delete(pl.wake, id)
	pl.mu.Unlock()
}

func (pl *PollBackend) run() {
	events := make([]reactor.Event, 64)
	for {
		n, err := pl.poller.Wait(events)
		if err != nil {
			return
		}
		pl.mu.Lock()
		for i := 0; i < n; i++ {
			if ch, ok := pl.wake[events[i].UserData]; ok {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
		pl.mu.Unlock()
	}
}
