package buffer_test

import (
	"testing"

	"github.com/momentics/ioengine/buffer"
)

func TestSliceSubSharesStorageAndRefcounts(t *testing.T) {
	s := buffer.NewSlice([]byte("hello world"))
	sub := s.Sub(6, 11)
	if string(sub.Bytes()) != "world" {
		t.Fatalf("Sub() = %q, want %q", sub.Bytes(), "world")
	}
	sub.Release()
	s.Release()
}

func TestPooledSliceReleaseInvokesOwnerAtZeroRefs(t *testing.T) {
	released := false
	owner := releaserFunc(func([]byte) { released = true })
	s := buffer.NewPooledSlice([]byte("data"), owner)
	retained := s.Retain()
	s.Release()
	if released {
		t.Fatal("ReleaseBytes fired before the last reference was released")
	}
	retained.Release()
	if !released {
		t.Fatal("ReleaseBytes did not fire at the last reference")
	}
}

func TestSliceBufferAppendAndLen(t *testing.T) {
	b := buffer.NewSliceBuffer(2)
	b.Append(buffer.NewSlice([]byte("abc")))
	b.Append(buffer.NewSlice([]byte("de")))
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	if string(b.Bytes()) != "abcde" {
		t.Fatalf("Bytes() = %q", b.Bytes())
	}
}

func TestSliceBufferConsumePrefixAcrossSlices(t *testing.T) {
	b := buffer.NewSliceBuffer(2)
	b.Append(buffer.NewSlice([]byte("abc")))
	b.Append(buffer.NewSlice([]byte("defgh")))

	b.ConsumePrefix(4)
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	if got, want := string(b.Bytes()), "efgh"; got != want {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
}

func TestSliceBufferConsumePrefixClampsToLength(t *testing.T) {
	b := buffer.NewSliceBuffer(1)
	b.Append(buffer.NewSlice([]byte("abc")))
	b.ConsumePrefix(100)
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestSliceBufferResetKeepsSlicesAlive(t *testing.T) {
	released := false
	owner := releaserFunc(func([]byte) { released = true })
	b := buffer.NewSliceBuffer(1)
	b.Append(buffer.NewPooledSlice([]byte("x"), owner))
	b.Reset()
	if released {
		t.Fatal("Reset must not release Slices")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Reset", b.Len())
	}
}

func TestSliceBufferReleaseReturnsAllSlices(t *testing.T) {
	n := 0
	owner := releaserFunc(func([]byte) { n++ })
	b := buffer.NewSliceBuffer(2)
	b.Append(buffer.NewPooledSlice([]byte("a"), owner))
	b.Append(buffer.NewPooledSlice([]byte("b"), owner))
	b.Release()
	if n != 2 {
		t.Fatalf("released %d slices, want 2", n)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Release", b.Len())
	}
}

type releaserFunc func([]byte)

func (f releaserFunc) ReleaseBytes(b []byte) { f(b) }
