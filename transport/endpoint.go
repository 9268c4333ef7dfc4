// Package transport implements the stream Endpoint, Listener, and
// Connector: the engine's only way to move bytes on or off the wire.
//
// Adapted from transport/tcp/listener.go's raw accept-loop shape and
// internal/transport/transport_linux.go's platform Send/Recv split,
// generalized from hioload-ws's batched [][]byte WebSocket framing to a
// single ordered buffer.SliceBuffer contract, and from a connection type
// tied to one NUMA-keyed buffer pool to one bound to a quota.Allocator.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package transport

import (
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/ioengine/addr"
	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/idle"
	"github.com/momentics/ioengine/quota"
	"github.com/momentics/ioengine/status"
)

// Endpoint is a bidirectional byte stream bound to one quota.Allocator
// for the lifetime of the connection. At most one Read and one Write may
// be outstanding at a time; a second concurrent call on either side is a
// programmer error and panics via status.Panic.
type Endpoint struct {
	conn  net.Conn
	alloc *quota.Allocator
	exec  *concurrency.Executor

	reading atomic.Bool
	writing atomic.Bool
	closed  atomic.Bool
	failed  atomic.Bool

	zeroCopy          bool
	zeroCopyThreshold int

	idleTracker *idle.Tracker
	onClose     func()

	rawConn  syscall.RawConn
	poller   *PollBackend
	pollerID uintptr
	wake     chan struct{}
}

// NewEndpoint wraps conn as an Endpoint dispatching blocking I/O through exec and
// charging buffer allocations against alloc.
func NewEndpoint(conn net.Conn, alloc *quota.Allocator, exec *concurrency.Executor) *Endpoint {
	return &Endpoint{conn: conn, alloc: alloc, exec: exec}
}

// SetCloseHook arms fn to run exactly once, the first time this Endpoint
// transitions to closed, whether that happens via an explicit Close or a
// fatal I/O error. It must be called before the Endpoint is handed to any
// other goroutine; there is no synchronization between this call and a
// concurrent Close. Owners that hand an Endpoint off (engine.Engine, for
// its destruction precondition) use this to learn when it is gone without
// requiring every caller to route Close through them.
func (e *Endpoint) SetCloseHook(fn func()) {
	e.onClose = fn
}

// EnableZeroCopy turns on the platform zero-copy send path for writes at
// or above thresholdBytes. It is a no-op on platforms without one.
func (e *Endpoint) EnableZeroCopy(thresholdBytes int) {
	e.zeroCopy = true
	e.zeroCopyThreshold = thresholdBytes
}

// EnableIdleTracking arms a client-side idle tracker on this endpoint:
// onIdle fires at most once per idle span, from the tracker's own
// dispatch goroutine, once idleTimeout elapses after the last in-flight
// Read or Write completes. The timer is armed only by such a completion,
// so an Endpoint that has done no Read or Write since this call never
// fires onIdle. It must be called before the first Read or Write.
func (e *Endpoint) EnableIdleTracking(idleTimeout time.Duration, onIdle func()) {
	e.idleTracker = idle.New(idleTimeout, onIdle)
}

// Allocator returns the quota.Allocator bound to this endpoint.
func (e *Endpoint) Allocator() *quota.Allocator { return e.alloc }

// LocalAddress returns the endpoint's local address.
func (e *Endpoint) LocalAddress() addr.Address {
	return netAddrToAddr(e.conn.LocalAddr())
}

// RemoteAddress returns the endpoint's peer address.
func (e *Endpoint) RemoteAddress() addr.Address {
	return netAddrToAddr(e.conn.RemoteAddr())
}

// Read asynchronously fills a freshly allocated buffer.SliceBuffer with
// up to maxBytes from the connection and invokes cb off the calling
// goroutine. Calling Read again before cb for the previous call has run
// is a programmer error.
func (e *Endpoint) Read(maxBytes int, cb func(*buffer.SliceBuffer, status.Status)) {
	if !e.reading.CompareAndSwap(false, true) {
		status.Panic("transport: overlapping Read on endpoint %s", e.RemoteAddress())
	}
	if e.idleTracker != nil {
		e.idleTracker.IncreaseCount()
	}
	// conn.Read blocks indefinitely; it runs on its own goroutine rather
	// than a worker drawn from exec, the same split resolver.go uses
	// between its blocking DNS exchange and the Executor-dispatched
	// completion. Only cb goes through exec.
	go func() {
		sb, st := e.readOnce(maxBytes)
		e.reading.Store(false)
		if e.idleTracker != nil {
			e.idleTracker.DecreaseCount()
		}
		e.exec.Submit(func() { cb(sb, st) })
	}()
}

func (e *Endpoint) readOnce(maxBytes int) (*buffer.SliceBuffer, status.Status) {
	if e.failed.Load() {
		return nil, status.New(status.Unreachable, "endpoint closed after a fatal I/O error")
	}
	if e.closed.Load() {
		return nil, status.New(status.Cancelled, "endpoint closed")
	}
	sl, st := e.alloc.Allocate(maxBytes)
	if !st.Ok() {
		return nil, st
	}
	n, err := e.rawRead(sl.Bytes())
	if err != nil {
		st := e.classifyAndFail(err)
		if n == 0 {
			sl.Release()
			return nil, st
		}
		sb := buffer.NewSliceBuffer(1)
		sb.Append(sl.Sub(0, n))
		sl.Release()
		return sb, st
	}
	sb := buffer.NewSliceBuffer(1)
	if n > 0 {
		sb.Append(sl.Sub(0, n))
	}
	sl.Release()
	return sb, status.Success()
}

// Write asynchronously drains sb to the connection and invokes cb off the
// calling goroutine with the number of bytes written. Ownership of sb's
// Slices passes to Write; the caller must not touch sb again until cb
// runs. Calling Write again before cb for the previous call has run is a
// programmer error.
func (e *Endpoint) Write(sb *buffer.SliceBuffer, cb func(int, status.Status)) {
	if !e.writing.CompareAndSwap(false, true) {
		status.Panic("transport: overlapping Write on endpoint %s", e.RemoteAddress())
	}
	if e.idleTracker != nil {
		e.idleTracker.IncreaseCount()
	}
	// conn.Write can block just as long as conn.Read; same split as Read.
	go func() {
		n, st := e.writeOnce(sb)
		e.writing.Store(false)
		if e.idleTracker != nil {
			e.idleTracker.DecreaseCount()
		}
		e.exec.Submit(func() { cb(n, st) })
	}()
}

func (e *Endpoint) writeOnce(sb *buffer.SliceBuffer) (int, status.Status) {
	if e.failed.Load() {
		return 0, status.New(status.Unreachable, "endpoint closed after a fatal I/O error")
	}
	if e.closed.Load() {
		return 0, status.New(status.Cancelled, "endpoint closed")
	}
	total := sb.Len()
	if e.zeroCopy && total >= e.zeroCopyThreshold {
		if n, st, ok := e.tryZeroCopyWrite(sb); ok {
			return n, st
		}
	}
	written := 0
	for _, sl := range sb.Slices() {
		n, err := e.writeFull(sl.Bytes())
		written += n
		if err != nil {
			sb.ConsumePrefix(written)
			return written, e.classifyAndFail(err)
		}
	}
	sb.ConsumePrefix(written)
	return written, status.Success()
}

func (e *Endpoint) writeFull(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := e.rawWrite(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close tears down the underlying connection on the first call, whether
// that call comes from the owner or from classifyAndFail noticing a fatal
// I/O error during a pending Read or Write: the socket is closed on
// destruction or first fatal I/O error, whichever comes first. Later calls
// are no-ops.
func (e *Endpoint) Close() status.Status {
	if !e.closed.CompareAndSwap(false, true) {
		return status.Success()
	}
	e.teardown()
	if err := e.conn.Close(); err != nil {
		return status.FromError(err)
	}
	return status.Success()
}

// teardown runs the side effects common to both Close and
// classifyAndFail's fatal-error path, once per Endpoint: disarming the
// idle tracker, releasing the poller registration, and notifying onClose.
// Callers must invoke it only after winning the e.closed CAS.
func (e *Endpoint) teardown() {
	if e.idleTracker != nil {
		e.idleTracker.Disconnect()
	}
	if e.poller != nil {
		e.poller.unregister(e.pollerID)
	}
	if e.onClose != nil {
		e.onClose()
	}
}

// classifyAndFail maps a Read/Write error to a Status. A timeout is
// reported as-is without touching the connection. Any other error closes
// the connection and marks the Endpoint failed on whichever Read, Write,
// or explicit Close first observes it, so a later Read/Write never retries
// a dead socket; a caller that loses that race — because the connection
// was already closed, by Close or by an earlier fatal error on the other
// direction — gets Cancelled instead of a second, stale diagnosis of the
// same close.
func (e *Endpoint) classifyAndFail(err error) status.Status {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return status.New(status.DeadlineExceeded, err.Error())
	}
	if !e.closed.CompareAndSwap(false, true) {
		return status.New(status.Cancelled, err.Error())
	}
	e.failed.Store(true)
	e.teardown()
	e.conn.Close()
	return status.New(status.Unreachable, err.Error())
}

func netAddrToAddr(na net.Addr) addr.Address {
	switch a := na.(type) {
	case *net.TCPAddr:
		return addr.FromTCPAddr(a)
	case *net.UnixAddr:
		return addr.FromUnixAddr(a)
	default:
		return addr.Address{}
	}
}
