package buffer

// SliceBuffer is an ordered sequence of Slices with a running total byte
// count. Callers hand a mutable reference to Read/Write and retain
// ownership — the engine never frees a SliceBuffer itself, only the
// individual Slices as they drain.
type SliceBuffer struct {
	slices []Slice
	length int
}

// NewSliceBuffer returns an empty SliceBuffer, optionally pre-sized.
func NewSliceBuffer(capacityHint int) *SliceBuffer {
	return &SliceBuffer{slices: make([]Slice, 0, capacityHint)}
}

// Len returns the total byte count across all slices.
func (b *SliceBuffer) Len() int { return b.length }

// Append adds a Slice to the end of the buffer.
func (b *SliceBuffer) Append(s Slice) {
	if s.Len() == 0 {
		return
	}
	b.slices = append(b.slices, s)
	b.length += s.Len()
}

// Slices returns the current ordered slice list. The returned slice of
// Slices must not be retained past the next mutating call.
func (b *SliceBuffer) Slices() []Slice { return b.slices }

// ConsumePrefix removes the first n bytes from the buffer, releasing any
// Slice fully consumed and shrinking the first remaining Slice in place.
// It is used by Write to drain bytes as they are handed to the kernel; the
// engine is free to mutate a SliceBuffer's contents in place as it drains.
func (b *SliceBuffer) ConsumePrefix(n int) {
	if n <= 0 {
		return
	}
	if n > b.length {
		n = b.length
	}
	remaining := n
	i := 0
	for i < len(b.slices) && remaining > 0 {
		s := b.slices[i]
		if s.Len() <= remaining {
			remaining -= s.Len()
			s.Release()
			i++
			continue
		}
		b.slices[i] = s.Sub(remaining, s.Len())
		s.Release()
		remaining = 0
	}
	b.slices = b.slices[i:]
	b.length -= n
}

// Bytes concatenates the buffer's contents into one fresh []byte, intended
// for tests and small payloads; production write paths should use Slices
// directly to stay zero-copy.
func (b *SliceBuffer) Bytes() []byte {
	out := make([]byte, 0, b.length)
	for _, s := range b.slices {
		out = append(out, s.Bytes()...)
	}
	return out
}

// Release returns every Slice currently held to its owning pool and empties
// the buffer. Used when an Endpoint is torn down with a partially filled
// read buffer.
func (b *SliceBuffer) Release() {
	for _, s := range b.slices {
		s.Release()
	}
	b.slices = nil
	b.length = 0
}

// Reset empties the buffer without releasing Slices, for callers that have
// taken ownership of the Slices via Slices() beforehand.
func (b *SliceBuffer) Reset() {
	b.slices = b.slices[:0]
	b.length = 0
}
