package quota

import (
	"context"
	"sync"
	"time"

	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/status"
)

// sizeClasses mirrors the power-of-two bucketing idiom used by
// pool/numapool.go's per-size sync.Pool, so reuse happens within a bucket
// instead of exact-size matches that would almost never hit.
var sizeClasses = []int{1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20}

func classFor(n int) int {
	for _, c := range sizeClasses {
		if n <= c {
			return c
		}
	}
	return n
}

// Allocator is the capability-bearing memory allocator: every reservation
// it grants is charged against its bound Quota, and every Release credits
// it back. It is pure policy — it never owns sockets — and every endpoint
// read/write buffer must flow through one.
type Allocator struct {
	quota *Quota
	pools sync.Map // size class (int) -> *sync.Pool
}

// NewAllocator binds an Allocator to a Quota node.
func NewAllocator(q *Quota) *Allocator {
	return &Allocator{quota: q}
}

// Quota returns the bound quota node.
func (a *Allocator) Quota() *Quota { return a.quota }

func (a *Allocator) poolFor(class int) *sync.Pool {
	if p, ok := a.pools.Load(class); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() any {
		b := make([]byte, class)
		return &b
	}}
	actual, _ := a.pools.LoadOrStore(class, p)
	return actual.(*sync.Pool)
}

// Allocate reserves n bytes against the quota and returns a pooled Slice of
// exactly n bytes (the pool bucket may be larger; the Slice is trimmed).
// On exhaustion it returns status.ResourceExhausted synchronously; callers
// that can tolerate blocking instead should use AllocateWait.
func (a *Allocator) Allocate(n int) (buffer.Slice, status.Status) {
	if n < 0 {
		return buffer.Slice{}, status.New(status.InvalidUsage, "negative allocation size")
	}
	if !a.quota.Reserve(int64(n)) {
		return buffer.Slice{}, status.Newf(status.ResourceExhausted, "quota %q exhausted for %d bytes", a.quota.Name(), n)
	}
	class := classFor(n)
	bp := a.poolFor(class)
	buf := bp.Get().(*[]byte)
	data := (*buf)[:n]
	return buffer.NewPooledSlice(data, &releaseShim{alloc: a, class: class, full: *buf, charged: int64(n)}), status.Success()
}

// AllocateWait behaves like Allocate but blocks (up to ctx's deadline) when
// the quota is momentarily exhausted, polling with backoff. It is intended
// for callers that can tolerate backpressure rather than failing fast,
// mirroring pool/numapool.go's reuse-first sync.Pool philosophy.
func (a *Allocator) AllocateWait(ctx context.Context, n int) (buffer.Slice, status.Status) {
	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	for {
		s, st := a.Allocate(n)
		if st.Ok() || st.Kind() != status.ResourceExhausted {
			return s, st
		}
		select {
		case <-ctx.Done():
			return buffer.Slice{}, status.New(status.DeadlineExceeded, "allocate wait deadline exceeded")
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// releaseShim implements buffer.Releaser, returning bytes to the size-class
// pool and uncharging the quota in one step so the two stay consistent.
type releaseShim struct {
	alloc   *Allocator
	class   int
	full    []byte
	charged int64
}

func (r *releaseShim) ReleaseBytes(_ []byte) {
	r.alloc.quota.Release(r.charged)
	buf := r.full
	r.alloc.poolFor(r.class).Put(&buf)
}
