package status_test

import (
	"testing"

	"github.com/momentics/ioengine/status"
)

func TestZeroStatusIsOK(t *testing.T) {
	var s status.Status
	if !s.Ok() {
		t.Fatal("zero Status must be OK")
	}
	if s.AsError() != nil {
		t.Fatal("zero Status must convert to a nil error")
	}
}

func TestNewNonOKCarriesReason(t *testing.T) {
	s := status.New(status.NotFound, "no such record")
	if s.Ok() {
		t.Fatal("NotFound must not be Ok")
	}
	if s.Kind() != status.NotFound {
		t.Fatalf("Kind() = %v, want NotFound", s.Kind())
	}
	if s.Reason() != "no such record" {
		t.Fatalf("Reason() = %q", s.Reason())
	}
	if s.AsError() == nil {
		t.Fatal("non-OK Status must convert to a non-nil error")
	}
}

func TestFromErrorRoundTripsStatus(t *testing.T) {
	orig := status.New(status.Unreachable, "connection refused")
	got := status.FromError(orig)
	if got.Kind() != status.Unreachable || got.Reason() != "connection refused" {
		t.Fatalf("FromError did not round-trip a Status value: %v", got)
	}
}

func TestFromErrorNilIsSuccess(t *testing.T) {
	if !status.FromError(nil).Ok() {
		t.Fatal("FromError(nil) must be Ok")
	}
}

func TestPanicCarriesInvalidUsage(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Panic must panic")
		}
		s, ok := r.(status.Status)
		if !ok {
			t.Fatalf("recovered value is %T, want status.Status", r)
		}
		if s.Kind() != status.InvalidUsage {
			t.Fatalf("Kind() = %v, want InvalidUsage", s.Kind())
		}
	}()
	status.Panic("overlapping call on %s", "endpoint")
}
