//go:build linux
// +build linux

// Zero-copy send path, grounded directly on
// internal/transport/transport_linux.go's SendmsgBuffers call: once a
// connection's underlying fd supports SO_ZEROCOPY, writes at or above the
// configured threshold go through unix.Sendmsg with MSG_ZEROCOPY instead
// of the portable net.Conn.Write loop.

package transport

import (
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/status"
)

func (e *Endpoint) tryZeroCopyWrite(sb *buffer.SliceBuffer) (int, status.Status, bool) {
	tc, ok := e.conn.(*net.TCPConn)
	if !ok {
		return 0, status.Status{}, false
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0, status.Status{}, false
	}

	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, status.Status{}, false
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ZEROCOPY, 1); err != nil {
		return 0, status.Status{}, false
	}

	buffers := make([][]byte, 0, len(sb.Slices()))
	for _, sl := range sb.Slices() {
		buffers = append(buffers, sl.Bytes())
	}

	var n int
	controlErr := raw.Write(func(f uintptr) bool {
		var sendErr error
		n, sendErr = unix.SendmsgBuffers(int(f), buffers, nil, nil, unix.MSG_ZEROCOPY)
		if sendErr == syscall.EAGAIN {
			return false // keep waiting for writability
		}
		err = sendErr
		return true
	})
	if controlErr != nil {
		return 0, status.Status{}, false
	}
	sb.ConsumePrefix(n)
	if err != nil {
		return n, e.classifyAndFail(err), true
	}
	return n, status.Success(), true
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// attachPoller arms edge-triggered epoll readiness notification for this
// Endpoint's socket through pl, the engine's shared reactor.Poller-backed
// loop for poll_strategy "epoll". Connections without a raw fd (anything
// not satisfying syscallConner) fall back silently to the default
// blocking-goroutine I/O path.
func (e *Endpoint) attachPoller(pl *PollBackend) status.Status {
	sc, ok := e.conn.(syscallConner)
	if !ok {
		return status.New(status.Unimplemented, "endpoint connection has no raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return status.FromError(err)
	}
	var fd uintptr
	if ctrlErr := raw.Control(func(f uintptr) { fd = f }); ctrlErr != nil {
		return status.FromError(ctrlErr)
	}
	id, ch, err := pl.register(fd)
	if err != nil {
		return status.FromError(err)
	}
	e.rawConn = raw
	e.poller = pl
	e.pollerID = id
	e.wake = ch
	return status.Success()
}

// rawRead performs one non-blocking read, parking on the poller's wakeup
// channel across EAGAIN rather than blocking inside the read syscall
// itself; with no poller attached it falls back to the ordinary blocking
// net.Conn.Read. unix.Read returning (0, nil) on a readable fd means the
// peer's write side closed, the same condition net.Conn.Read reports as
// io.EOF, so it is translated here to keep readOnce's error handling
// uniform across both paths.
func (e *Endpoint) rawRead(buf []byte) (int, error) {
	if e.poller == nil {
		return e.conn.Read(buf)
	}
	for {
		var n int
		var sysErr error
		ctrlErr := e.rawConn.Control(func(fd uintptr) {
			n, sysErr = unix.Read(int(fd), buf)
		})
		if ctrlErr != nil {
			return 0, ctrlErr
		}
		if sysErr == syscall.EAGAIN {
			<-e.wake
			continue
		}
		if sysErr != nil {
			return 0, sysErr
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// rawWrite is rawRead's write-side counterpart.
func (e *Endpoint) rawWrite(buf []byte) (int, error) {
	if e.poller == nil {
		return e.conn.Write(buf)
	}
	for {
		var n int
		var sysErr error
		ctrlErr := e.rawConn.Control(func(fd uintptr) {
			n, sysErr = unix.Write(int(fd), buf)
		})
		if ctrlErr != nil {
			return 0, ctrlErr
		}
		if sysErr == syscall.EAGAIN {
			<-e.wake
			continue
		}
		if sysErr != nil {
			return 0, sysErr
		}
		return n, nil
	}
}
