// Package buffer implements the engine's reference-counted Slice and
// ordered SliceBuffer, adapted from api.Buffer (api/buffer.go) and the
// release-on-drop discipline of api.WebSocketFrame.Release
// (api/interfaces.go), generalized from a single NUMA-tagged region into
// a plain contiguous-byte-range contract.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package buffer

import "sync/atomic"

// Releaser returns a byte slice to whatever pool produced it. It is
// implemented by the quota package's Allocator; Slices built directly over
// caller-owned memory (e.g. in tests) leave it nil.
type Releaser interface {
	ReleaseBytes(b []byte)
}

// Slice is a reference-counted, immutable (to external callers) contiguous
// byte range. Slicing is O(1) and shares the underlying storage.
type Slice struct {
	owner Releaser
	data  []byte
	refs  *atomic.Int32
}

// NewSlice wraps an existing []byte as a standalone, unpooled Slice; Release
// is then a no-op. Used for data the caller owns outside the engine.
func NewSlice(b []byte) Slice {
	r := &atomic.Int32{}
	r.Store(1)
	return Slice{data: b, refs: r}
}

// NewPooledSlice wraps a pool-owned []byte; owner.ReleaseBytes is invoked
// when the last reference is released.
func NewPooledSlice(b []byte, owner Releaser) Slice {
	r := &atomic.Int32{}
	r.Store(1)
	return Slice{owner: owner, data: b, refs: r}
}

// Bytes returns an immutable view of the slice's data.
func (s Slice) Bytes() []byte { return s.data }

// Len reports the number of bytes in the slice.
func (s Slice) Len() int { return len(s.data) }

// Sub produces a sub-slice in O(1), sharing the underlying storage and
// incrementing the shared refcount so Release on either sub-slice does not
// free memory the other is still using.
func (s Slice) Sub(from, to int) Slice {
	s.refs.Add(1)
	return Slice{owner: s.owner, data: s.data[from:to], refs: s.refs}
}

// Retain increments the refcount, for callers that hand the Slice to more
// than one consumer (e.g. a SliceBuffer appending it and the issuer keeping
// a copy for logging).
func (s Slice) Retain() Slice {
	s.refs.Add(1)
	return s
}

// Release decrements the refcount; at zero, if the Slice is pool-owned, its
// storage is returned to the pool. After Release the Slice must not be used.
func (s Slice) Release() {
	if s.refs == nil {
		return
	}
	if s.refs.Add(-1) == 0 && s.owner != nil {
		s.owner.ReleaseBytes(s.data)
	}
}

// Copy returns a deep copy of the slice's contents as a standalone []byte.
func (s Slice) Copy() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}
