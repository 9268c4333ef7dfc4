// Package engine implements the façade that aggregates the task/timer
// service, DNS resolver, transport listeners/connectors, and the
// configuration store behind a single constructed value, adapted from
// facade/hioload.go's HioloadWS: the same "wire everything in New,
// expose it through typed getters, tear it all down exactly once in
// Close" shape, generalized from hioload-ws's WebSocket-specific
// surface to the engine's listener/connector/task/lookup surface.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/control"
	"github.com/momentics/ioengine/quota"
	"github.com/momentics/ioengine/reactor"
	"github.com/momentics/ioengine/resolver"
	"github.com/momentics/ioengine/status"
	"github.com/momentics/ioengine/taskqueue"
	"github.com/momentics/ioengine/timer"
	"github.com/momentics/ioengine/transport"
)

// Config holds parameters immutable per run, the typed constructor
// argument backing control.ConfigStore's opaque map the way
// facade.Config and api.Control coexist.
type Config struct {
	NumWorkers                      int
	PinWorkers                      bool
	ResourceQuotaBytes              int64
	TCPTxZeroCopyEnabled            bool
	TCPTxZeroCopySendBytesThreshold int
	ClientIdleTimeout               time.Duration
	PollStrategy                    string
	ShutdownGracePeriod             time.Duration
}

// DefaultConfig returns sane defaults for typical use without tuning.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:                      0, // runtime.NumCPU()
		PinWorkers:                      false,
		ResourceQuotaBytes:              0, // unbounded
		TCPTxZeroCopyEnabled:            false,
		TCPTxZeroCopySendBytesThreshold: 1 << 16,
		ClientIdleTimeout:               30 * time.Second,
		PollStrategy:                    "blocking",
		ShutdownGracePeriod:             5 * time.Second,
	}
}

// Engine aggregates every component behind one constructed value.
type Engine struct {
	config  *Config
	control *control.ConfigStore

	quota    *quota.Quota
	executor *concurrency.Executor
	timer    *timer.Service
	resolver *resolver.Resolver

	poller *transport.PollBackend

	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	outstanding   atomic.Int64
	acceptedTotal atomic.Int64
	connectsTotal atomic.Int64
	lookupsTotal  atomic.Int64

	mu        sync.Mutex
	listeners map[*transport.Listener]struct{}
	closed    bool
}

// New wires the quota root, executor, timer service, resolver, and
// config store the way facade.New wires transport/pool/executor/poller/
// scheduler.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		config:    cfg,
		control:   control.NewConfigStore(),
		quota:     quota.NewRootQuota("engine", cfg.ResourceQuotaBytes),
		listeners: make(map[*transport.Listener]struct{}),
	}
	if cfg.PinWorkers {
		e.executor = concurrency.NewPinned(cfg.NumWorkers)
	} else {
		e.executor = concurrency.New(cfg.NumWorkers)
	}
	e.timer = timer.New(e.executor)
	e.resolver = resolver.New(e.executor)

	e.metrics = control.NewMetricsRegistry()
	e.debug = control.NewDebugProbes()
	control.RegisterPlatformProbes(e.debug)
	e.debug.RegisterProbe("engine.outstanding", func() any { return e.Outstanding() })
	e.debug.RegisterProbe("engine.listeners", func() any {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.listeners)
	})
	e.debug.RegisterProbe("engine.poll_strategy", func() any { return e.config.PollStrategy })

	if cfg.PollStrategy == "epoll" {
		p, err := reactor.NewPoller()
		if err != nil {
			log.Printf("[ioengine] poll_strategy=epoll unavailable (%v); falling back to blocking I/O", err)
		} else {
			e.poller = transport.NewPollBackend(p)
		}
	}

	e.control.SetConfig(map[string]any{
		control.KeyResourceQuotaBytes:              cfg.ResourceQuotaBytes,
		control.KeyTCPTxZeroCopyEnabled:             cfg.TCPTxZeroCopyEnabled,
		control.KeyTCPTxZeroCopySendBytesThreshold:  int64(cfg.TCPTxZeroCopySendBytesThreshold),
		control.KeyClientIdleTimeoutMS:              int64(cfg.ClientIdleTimeout / time.Millisecond),
		control.KeyPollStrategy:                     cfg.PollStrategy,
	})
	return e
}

// Config returns the typed construction config.
func (e *Engine) Config() *Config { return e.config }

// Control returns the opaque configuration/hot-reload store.
func (e *Engine) Control() *control.ConfigStore { return e.control }

// Quota returns the engine's root memory quota.
func (e *Engine) Quota() *quota.Quota { return e.quota }

// Metrics returns the engine's runtime metrics registry.
func (e *Engine) Metrics() *control.MetricsRegistry { return e.metrics }

// Debug returns the engine's debug probe registry.
func (e *Engine) Debug() *control.DebugProbes { return e.debug }

// NewListener constructs a Listener tracked by this Engine's destruction
// precondition: Close will not return while it remains unclosed.
func (e *Engine) NewListener() *transport.Listener {
	ln := transport.New(e.executor, e.quota)
	if e.poller != nil {
		ln.UsePoller(e.poller)
	}
	e.track()
	e.mu.Lock()
	e.listeners[ln] = struct{}{}
	e.mu.Unlock()
	return ln
}

// StartListener starts ln, arming each accepted Endpoint's idle tracker
// from Config.ClientIdleTimeout before handing it to onAccept. The
// Endpoint itself is tracked by the destruction precondition from this
// point until it closes, whether onAccept closes it, its idle tracker
// does, or a fatal I/O error does.
func (e *Engine) StartListener(ln *transport.Listener, onAccept transport.AcceptCallback) status.Status {
	timeout := e.config.ClientIdleTimeout
	return ln.Start(func(ep *transport.Endpoint) {
		e.trackEndpoint(ep)
		e.metrics.Set("engine.accepted_total", e.acceptedTotal.Add(1))
		if timeout > 0 {
			ep.EnableIdleTracking(timeout, func() { ep.Close() })
		}
		onAccept(ep)
	})
}

// CloseListener closes ln and stops tracking it.
func (e *Engine) CloseListener(ln *transport.Listener, shutdown transport.ShutdownCallback) status.Status {
	st := ln.Close(shutdown)
	e.mu.Lock()
	delete(e.listeners, ln)
	e.mu.Unlock()
	e.untrack()
	return st
}

// NewConnector constructs a Connector sharing the engine's executor and
// quota root, for applications that want raw access to Connect/
// CancelConnect. Connects made through it are not tracked by Close.
func (e *Engine) NewConnector() *transport.Connector {
	c := transport.NewConnector(e.executor, e.quota)
	if e.poller != nil {
		c.UsePoller(e.poller)
	}
	return c
}

// Connect dials uri through a private Connector, tracked by the
// destruction precondition until cb has run; a synchronous setup error
// is returned without cb ever running and is not tracked. The returned
// Handle belongs to that private Connector, and the Engine has no
// CancelConnect, so an attempt started here cannot be cancelled.
// A successfully connected Endpoint is tracked separately, starting
// before cb observes it and ending when it closes.
func (e *Engine) Connect(uri string, deadline time.Time, cb transport.ConnectCallback) (taskqueue.Handle, status.Status) {
	c := e.NewConnector()
	e.track()
	h, st := c.Connect(uri, deadline, func(ep *transport.Endpoint, st status.Status) {
		defer e.untrack()
		if ep != nil {
			e.trackEndpoint(ep)
			e.metrics.Set("engine.connects_total", e.connectsTotal.Add(1))
			if e.config.ClientIdleTimeout > 0 {
				ep.EnableIdleTracking(e.config.ClientIdleTimeout, func() { ep.Close() })
			}
		}
		cb(ep, st)
	})
	if !st.Ok() {
		e.untrack()
	}
	return h, st
}

// RunAt schedules c to run at deadline, tracked until it fires or is
// cancelled.
func (e *Engine) RunAt(deadline time.Time, c taskqueue.Closure) taskqueue.Handle {
	e.track()
	return e.timer.RunAt(deadline, func() {
		defer e.untrack()
		c()
	})
}

// RunNow enqueues c for immediate, uncancelable execution.
func (e *Engine) RunNow(c taskqueue.Closure) {
	e.track()
	e.executor.Submit(func() {
		defer e.untrack()
		c()
	})
}

// Cancel cancels a pending RunAt task.
func (e *Engine) Cancel(h taskqueue.Handle) bool {
	ok := e.timer.Cancel(h)
	if ok {
		e.untrack()
	}
	return ok
}

// LookupHostname resolves name, tracked until cb has run or the lookup
// is cancelled.
func (e *Engine) LookupHostname(ctx context.Context, name string, port int, deadline time.Time, cb func(resolver.HostnameResult)) taskqueue.Handle {
	e.track()
	e.metrics.Set("engine.lookups_total", e.lookupsTotal.Add(1))
	return e.resolver.LookupHostname(ctx, name, port, deadline, func(r resolver.HostnameResult) {
		defer e.untrack()
		cb(r)
	})
}

// CancelLookup cancels a pending DNS lookup.
func (e *Engine) CancelLookup(h taskqueue.Handle) bool {
	ok := e.resolver.CancelLookup(h)
	if ok {
		e.untrack()
	}
	return ok
}

func (e *Engine) track()   { e.outstanding.Add(1) }
func (e *Engine) untrack() { e.outstanding.Add(-1) }

// trackEndpoint arms ep's close hook to untrack it, so Close's destruction
// precondition covers handed-off Endpoints the same as listeners, in-flight
// connects, tasks, and lookups. Must be called before ep is exposed to any
// goroutine other than the one calling trackEndpoint, per SetCloseHook.
func (e *Engine) trackEndpoint(ep *transport.Endpoint) {
	e.track()
	ep.SetCloseHook(e.untrack)
}

// Outstanding reports the number of listeners, open Endpoints, in-flight
// connects, pending tasks, and pending lookups this Engine is still
// tracking.
func (e *Engine) Outstanding() int64 { return e.outstanding.Load() }

// Close refuses to return until every listener, endpoint, in-flight
// connect, task, and DNS lookup this Engine is tracking has been torn
// down, polling with backoff up to ShutdownGracePeriod; if any remain
// after the grace period it panics rather than silently leaking work
// the caller believes is stopped, matching "detect and abort when
// feasible" instead of hanging forever or returning prematurely.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	listeners := make([]*transport.Listener, 0, len(e.listeners))
	for ln := range e.listeners {
		listeners = append(listeners, ln)
	}
	e.mu.Unlock()

	for _, ln := range listeners {
		e.CloseListener(ln, nil)
	}

	deadline := time.Now().Add(e.config.ShutdownGracePeriod)
	backoff := time.Millisecond
	for time.Now().Before(deadline) {
		if e.Outstanding() == 0 {
			break
		}
		time.Sleep(backoff)
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
	if n := e.Outstanding(); n != 0 {
		panic(fmt.Sprintf("engine: Close timed out with %d outstanding operations", n))
	}

	e.timer.Close()
	e.executor.Close()
	if e.poller != nil {
		e.poller.Close()
	}
}
