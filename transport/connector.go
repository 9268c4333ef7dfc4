package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/momentics/ioengine/addr"
	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/quota"
	"github.com/momentics/ioengine/status"
	"github.com/momentics/ioengine/taskqueue"
)

// ConnectCallback receives the outcome of an outbound connect attempt.
// It is invoked at most once, and never at all if the connect was
// cancelled before the dial completed.
type ConnectCallback func(*Endpoint, status.Status)

// Connector performs outbound dials, new surface relative to the
// server-only accept path transport/tcp's listener shape came from;
// grounded on transport/tcp's accept-path idiom plus
// internal/transport/transport_linux.go's non-blocking-socket creation
// for the symmetrical outbound case.
type Connector struct {
	exec   *concurrency.Executor
	quota  *quota.Quota
	table  *taskqueue.Table
	poller *PollBackend
}

// NewConnector constructs a Connector. Endpoints it produces are charged
// against children of parentQuota and dispatch I/O through exec.
func NewConnector(exec *concurrency.Executor, parentQuota *quota.Quota) *Connector {
	return &Connector{exec: exec, quota: parentQuota, table: taskqueue.NewTable()}
}

// UsePoller arms pb as the readiness backend for every Endpoint this
// Connector dials from now on. See Listener.UsePoller.
func (c *Connector) UsePoller(pb *PollBackend) {
	c.poller = pb
}

// Connect dials uri and invokes cb on completion or failure. Synchronous
// setup errors (a malformed uri) are reported inline via the returned
// Status and on_connect/cb is never invoked for them; asynchronous dial
// failures reach cb instead.
func (c *Connector) Connect(uri string, deadline time.Time, cb ConnectCallback) (taskqueue.Handle, status.Status) {
	a, network, err := addr.Parse(uri)
	if err != nil {
		return taskqueue.Handle{}, status.New(status.InvalidUsage, err.Error())
	}
	na, err := a.NetAddr(network)
	if err != nil {
		return taskqueue.Handle{}, status.New(status.InvalidUsage, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	var timerCancel context.CancelFunc = cancel
	if !deadline.IsZero() {
		ctx, timerCancel = context.WithDeadline(ctx, deadline)
	}

	var once sync.Once
	abort := func() { once.Do(timerCancel) }
	h := c.table.Alloc(abort)

	// dialContext blocks until the OS connect() completes or ctx is done;
	// it runs on its own goroutine rather than a worker drawn from exec,
	// the same split resolver.go uses for its blocking DNS exchange. Only
	// the completion closures below go through exec.
	go func() {
		defer abort()
		conn, err := dialContext(ctx, network, na)
		if !c.table.TryDispatch(h) {
			if conn != nil {
				conn.Close()
			}
			return
		}
		defer c.table.Complete(h)

		if err != nil {
			c.exec.Submit(func() { cb(nil, classifyDialError(ctx, err)) })
			return
		}
		childQuota := c.quota
		if childQuota != nil {
			childQuota = childQuota.NewChild("endpoint", 0)
		}
		ep := NewEndpoint(conn, quota.NewAllocator(childQuota), c.exec)
		if c.poller != nil {
			ep.attachPoller(c.poller)
		}
		c.exec.Submit(func() { cb(ep, status.Success()) })
	}()
	return h, status.Success()
}

// CancelConnect cancels a pending connect. It returns true only if
// on_connect is now guaranteed never to run: cancelling before the
// os-level connect() completes prevents the callback from firing, while
// a cancel racing a completed dial returns false and the completed
// Endpoint or failure is still delivered to cb.
func (c *Connector) CancelConnect(h taskqueue.Handle) bool {
	return c.table.Cancel(h)
}

func dialContext(ctx context.Context, network string, na net.Addr) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, na.String())
}

func classifyDialError(ctx context.Context, err error) status.Status {
	if ctx.Err() == context.Canceled {
		return status.New(status.Cancelled, err.Error())
	}
	if ctx.Err() == context.DeadlineExceeded {
		return status.New(status.DeadlineExceeded, err.Error())
	}
	return status.New(status.Unreachable, err.Error())
}
