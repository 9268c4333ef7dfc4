// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the Poller abstraction: a readiness-notification
// black box with epoll (Linux) and IOCP (Windows) backends. transport.
// PollBackend wraps one to demultiplex edge-triggered readiness across
// every Endpoint a Listener or Connector hands off once engine.Engine's
// poll_strategy config selects "epoll"; without that, Endpoints fall back
// to a blocking-goroutine-per-call backend instead.
package reactor
