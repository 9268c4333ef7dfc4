//go:build !linux
// +build !linux

package transport

import (
	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/status"
)

// tryZeroCopyWrite has no backing syscall outside Linux; EnableZeroCopy
// is accepted but silently falls back to the portable write loop.
func (e *Endpoint) tryZeroCopyWrite(sb *buffer.SliceBuffer) (int, status.Status, bool) {
	return 0, status.Status{}, false
}

// attachPoller has no edge-triggered-readiness fast path outside Linux;
// callers fall back to the default blocking-goroutine I/O path.
func (e *Endpoint) attachPoller(pl *PollBackend) status.Status {
	return status.New(status.Unimplemented, "poller fast path is only available on linux")
}

func (e *Endpoint) rawRead(buf []byte) (int, error)  { return e.conn.Read(buf) }
func (e *Endpoint) rawWrite(buf []byte) (int, error) { return e.conn.Write(buf) }
