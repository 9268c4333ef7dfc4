//go:build !linux && !windows
// +build !linux,!windows

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "errors"

// NewPoller returns an error for unsupported platforms: such platforms
// must rely on transport's default blocking-goroutine backend instead.
func NewPoller() (Poller, error) {
	return nil, errors.New("reactor: this platform has no Poller backend")
}
