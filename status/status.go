// Package status defines the tagged outcome sum type used across the
// engine's asynchronous callbacks, adapted from api.ErrorCode/api.Error
// into the closed set of kinds the engine's external interface requires.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package status

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the outcome of an asynchronous engine operation.
type Kind int

const (
	// OK indicates success.
	OK Kind = iota
	// Cancelled indicates a user- or shutdown-initiated abort.
	Cancelled
	// DeadlineExceeded indicates the operation ran past its wall-clock deadline.
	DeadlineExceeded
	// Unreachable indicates a connect attempt was actively refused or reset.
	Unreachable
	// ResourceExhausted indicates a quota refused an allocation.
	ResourceExhausted
	// InvalidUsage indicates a programmer error (overlapping I/O, use-after-close).
	InvalidUsage
	// Internal indicates an unexpected kernel or runtime return.
	Internal
	// NotFound indicates a lookup found no matching record.
	NotFound
	// Unimplemented indicates the requested capability is not available.
	Unimplemented
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case Cancelled:
		return "Cancelled"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case Unreachable:
		return "Unreachable"
	case ResourceExhausted:
		return "ResourceExhausted"
	case InvalidUsage:
		return "InvalidUsage"
	case Internal:
		return "Internal"
	case NotFound:
		return "NotFound"
	case Unimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// Status is a tagged outcome: a Kind plus a human-readable reason.
// The zero Status is OK, mirroring the convention that a zero-initialized
// value should mean "nothing went wrong".
type Status struct {
	kind   Kind
	reason string
}

// Ok reports whether the status represents success.
func (s Status) Ok() bool { return s.kind == OK }

// Kind returns the status's kind.
func (s Status) Kind() Kind { return s.kind }

// Reason returns the human-readable explanation, if any.
func (s Status) Reason() string { return s.reason }

// Error implements the error interface so Status can flow through code
// that expects one; OK statuses return a nil error via AsError instead.
func (s Status) Error() string {
	if s.reason == "" {
		return s.kind.String()
	}
	return fmt.Sprintf("%s: %s", s.kind, s.reason)
}

// AsError returns nil for OK, or the Status itself (as an error) otherwise.
func (s Status) AsError() error {
	if s.Ok() {
		return nil
	}
	return s
}

// New constructs a Status of the given kind. Constructing a New(InvalidUsage, ...)
// does not itself panic; callers that detect a programmer-error condition call
// Panic explicitly so the abort happens at the point of detection.
func New(kind Kind, reason string) Status {
	return Status{kind: kind, reason: reason}
}

// Newf is New with a formatted reason.
func Newf(kind Kind, format string, args ...any) Status {
	return Status{kind: kind, reason: fmt.Sprintf(format, args...)}
}

// Success returns the canonical OK status.
func Success() Status { return Status{kind: OK} }

// FromError classifies a generic error into a best-effort Status, used at
// the boundary where blocking syscalls (net.Conn, resolver) surface stdlib
// errors that must become Statuses before reaching a callback. A
// context.DeadlineExceeded or context.Canceled is classified by kind
// rather than falling through to Internal, since both name outcomes this
// package already has a Kind for.
func FromError(err error) Status {
	if err == nil {
		return Success()
	}
	if s, ok := err.(Status); ok {
		return s
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return New(Cancelled, err.Error())
	}
	return New(Internal, err.Error())
}

// Panic aborts the process for a detected InvalidUsage violation: these
// are programmer errors, not recoverable statuses.
func Panic(format string, args ...any) {
	panic(New(InvalidUsage, fmt.Sprintf(format, args...)))
}
