package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/ioengine/addr"
	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/quota"
	"github.com/momentics/ioengine/status"
)

// AcceptCallback is invoked once per accepted connection, off the
// accept-loop goroutine.
type AcceptCallback func(*Endpoint)

// ShutdownCallback is invoked exactly once when a Listener finishes
// closing all of its bound sockets.
type ShutdownCallback func()

// Listener generalizes transport/tcp/listener.go's single-address
// StartTCPListener into an accumulate-then-start contract: Bind may be
// called repeatedly before Start, each call opening one more socket.
type Listener struct {
	exec   *concurrency.Executor
	quota  *quota.Quota
	poller *PollBackend

	mu       sync.Mutex
	sockets  []net.Listener
	started  bool
	stopping atomic.Bool

	wg sync.WaitGroup
}

// New constructs an unstarted Listener. Accepted connections are charged
// against children of parentQuota and I/O dispatched through exec.
func New(exec *concurrency.Executor, parentQuota *quota.Quota) *Listener {
	return &Listener{exec: exec, quota: parentQuota}
}

// UsePoller arms pb as the readiness backend for every Endpoint this
// Listener accepts from now on, the poll_strategy "epoll" path. Endpoints
// whose connection has no raw fd fall back to the default
// blocking-goroutine path automatically.
func (l *Listener) UsePoller(pb *PollBackend) {
	l.poller = pb
}

// Bind opens one more listening socket for uri ("ipv4:host:port",
// "ipv6:[host]:port", or "unix:path"). It may be called any number of
// times before Start; calling it afterward returns InvalidUsage.
func (l *Listener) Bind(uri string) status.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return status.New(status.InvalidUsage, "Bind called after Start")
	}

	a, network, err := addr.Parse(uri)
	if err != nil {
		return status.New(status.InvalidUsage, err.Error())
	}
	na, err := a.NetAddr(network)
	if err != nil {
		return status.New(status.InvalidUsage, err.Error())
	}

	var ln net.Listener
	switch network {
	case "unix":
		ln, err = net.ListenUnix("unix", na.(*net.UnixAddr))
	default:
		ln, err = net.ListenTCP(network, na.(*net.TCPAddr))
	}
	if err != nil {
		return status.FromError(err)
	}
	l.sockets = append(l.sockets, ln)
	return status.Success()
}

// Start launches one accept-loop goroutine per bound socket. ln.Accept
// blocks indefinitely, so each loop runs on its own goroutine rather than
// a worker drawn from the Executor; only onAccept is dispatched through
// exec, the same split resolver.go uses for its blocking DNS exchange.
func (l *Listener) Start(onAccept AcceptCallback) status.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return status.New(status.InvalidUsage, "Start called twice")
	}
	if len(l.sockets) == 0 {
		return status.New(status.InvalidUsage, "Start called with no bound sockets")
	}
	l.started = true

	for _, ln := range l.sockets {
		ln := ln
		l.wg.Add(1)
		go l.acceptLoop(ln, onAccept)
	}
	return status.Success()
}

func (l *Listener) acceptLoop(ln net.Listener, onAccept AcceptCallback) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.stopping.Load() {
				return
			}
			continue
		}
		childQuota := l.quota
		if childQuota != nil {
			childQuota = childQuota.NewChild("endpoint", 0)
		}
		ep := NewEndpoint(conn, quota.NewAllocator(childQuota), l.exec)
		if l.poller != nil {
			ep.attachPoller(l.poller)
		}
		l.exec.Submit(func() { onAccept(ep) })
	}
}

// Addrs returns the resolved local address of each bound socket, in Bind
// order; useful for discovering an ephemeral port chosen with ":0".
func (l *Listener) Addrs() []addr.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]addr.Address, 0, len(l.sockets))
	for _, ln := range l.sockets {
		out = append(out, netAddrToAddr(ln.Addr()))
	}
	return out
}

// Close closes every bound socket exactly once and invokes shutdown
// exactly once, mirroring facade/hioload.go's single-invocation
// Shutdown/Stop pattern. It does not wait for already-accepted Endpoints
// to be closed by their owners.
func (l *Listener) Close(shutdown ShutdownCallback) status.Status {
	if !l.stopping.CompareAndSwap(false, true) {
		return status.Success()
	}
	l.mu.Lock()
	sockets := l.sockets
	l.mu.Unlock()

	var first error
	for _, ln := range sockets {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.wg.Wait()
	if shutdown != nil {
		shutdown()
	}
	if first != nil {
		return status.FromError(first)
	}
	return status.Success()
}
