// Package resolver implements asynchronous DNS lookups (hostname, SRV,
// TXT) against the system or a configured nameserver list.
//
// There is no prior DNS story in this codebase to adapt; this package is
// grounded on github.com/miekg/dns, a dependency the rest of the retrieval pack
// pulls in for explicit message construction (dep2p-go-dep2p/go.mod),
// used here in place of net.Resolver so that SRV and TXT are first-class
// query types instead of stdlib's A/AAAA-only LookupHost.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/momentics/ioengine/addr"
	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/status"
	"github.com/momentics/ioengine/taskqueue"
)

// HostnameResult carries the outcome of LookupHostname.
type HostnameResult struct {
	Addresses []addr.Address
	Status    status.Status
}

// SRVRecord is one resolved SRV target.
type SRVRecord struct {
	Target   string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// SRVResult carries the outcome of LookupSRV.
type SRVResult struct {
	Records []SRVRecord
	Status  status.Status
}

// TXTResult carries the outcome of LookupTXT.
type TXTResult struct {
	Records []string
	Status  status.Status
}

// Resolver performs DNS lookups via a shared dns.Client and nameserver
// list, dispatching callbacks through an Executor so callers are never
// invoked synchronously from the requesting goroutine.
type Resolver struct {
	client      *dns.Client
	nameservers []string
	exec        *concurrency.Executor
	table       *taskqueue.Table
}

// New constructs a Resolver using the system nameserver configuration
// (loadSystemConfig, platform-specific) and dispatches callbacks via exec.
func New(exec *concurrency.Executor) *Resolver {
	servers, timeout := loadSystemConfig()
	return &Resolver{
		client:      &dns.Client{Timeout: timeout},
		nameservers: servers,
		exec:        exec,
		table:       taskqueue.NewTable(),
	}
}

// NewWithServers constructs a Resolver against an explicit nameserver
// list (each "host:port"), bypassing system configuration discovery.
func NewWithServers(exec *concurrency.Executor, servers []string, timeout time.Duration) *Resolver {
	return &Resolver{
		client:      &dns.Client{Timeout: timeout},
		nameservers: servers,
		exec:        exec,
		table:       taskqueue.NewTable(),
	}
}

func (r *Resolver) pickServer() string {
	if len(r.nameservers) == 0 {
		return "8.8.8.8:53"
	}
	return r.nameservers[0]
}

// CancelLookup cancels a pending lookup. Returns true only if the
// corresponding callback is now guaranteed never to run.
func (r *Resolver) CancelLookup(h taskqueue.Handle) bool {
	return r.table.Cancel(h)
}

// LookupHostname resolves name to its A/AAAA addresses. deadline is a
// zero time.Time for "no deadline".
func (r *Resolver) LookupHostname(ctx context.Context, name string, port int, deadline time.Time, cb func(HostnameResult)) taskqueue.Handle {
	ctx, cancel := withDeadline(ctx, deadline)
	h := r.table.Alloc(cancel)

	go func() {
		defer cancel()
		var addrs []addr.Address
		var lastErr error
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			msg := new(dns.Msg)
			msg.SetQuestion(dns.Fqdn(name), qtype)
			in, _, err := r.exchangeContext(ctx, msg)
			if err != nil {
				lastErr = err
				continue
			}
			for _, rr := range in.Answer {
				switch rec := rr.(type) {
				case *dns.A:
					addrs = append(addrs, addr.FromTCPAddr(&net.TCPAddr{IP: rec.A, Port: port}))
				case *dns.AAAA:
					addrs = append(addrs, addr.FromTCPAddr(&net.TCPAddr{IP: rec.AAAA, Port: port}))
				}
			}
		}

		st := status.Success()
		if len(addrs) == 0 {
			if lastErr != nil {
				st = status.FromError(lastErr)
			} else {
				st = status.New(status.NotFound, fmt.Sprintf("no addresses found for %q", name))
			}
		}
		r.complete(h, func() { cb(HostnameResult{Addresses: addrs, Status: st}) })
	}()
	return h
}

// LookupSRV resolves the SRV records for service.proto.name.
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, name string, deadline time.Time, cb func(SRVResult)) taskqueue.Handle {
	ctx, cancel := withDeadline(ctx, deadline)
	h := r.table.Alloc(cancel)

	go func() {
		defer cancel()
		query := fmt.Sprintf("_%s._%s.%s", service, proto, dns.Fqdn(name))
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(query), dns.TypeSRV)

		in, _, err := r.exchangeContext(ctx, msg)
		st := status.FromError(err)
		var recs []SRVRecord
		if err == nil {
			for _, rr := range in.Answer {
				if srv, ok := rr.(*dns.SRV); ok {
					recs = append(recs, SRVRecord{
						Target:   srv.Target,
						Port:     srv.Port,
						Priority: srv.Priority,
						Weight:   srv.Weight,
					})
				}
			}
			if len(recs) == 0 {
				st = status.New(status.NotFound, fmt.Sprintf("no SRV records for %q", query))
			}
		}
		r.complete(h, func() { cb(SRVResult{Records: recs, Status: st}) })
	}()
	return h
}

// LookupTXT resolves the TXT records for name.
func (r *Resolver) LookupTXT(ctx context.Context, name string, deadline time.Time, cb func(TXTResult)) taskqueue.Handle {
	ctx, cancel := withDeadline(ctx, deadline)
	h := r.table.Alloc(cancel)

	go func() {
		defer cancel()
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

		in, _, err := r.exchangeContext(ctx, msg)
		st := status.FromError(err)
		var recs []string
		if err == nil {
			for _, rr := range in.Answer {
				if txt, ok := rr.(*dns.TXT); ok {
					recs = append(recs, txt.Txt...)
				}
			}
			if len(recs) == 0 {
				st = status.New(status.NotFound, fmt.Sprintf("no TXT records for %q", name))
			}
		}
		r.complete(h, func() { cb(TXTResult{Records: recs, Status: st}) })
	}()
	return h
}

// exchangeContext runs a query against the configured nameserver,
// honoring ctx cancellation even though dns.Client.Exchange is not itself
// context-aware.
func (r *Resolver) exchangeContext(ctx context.Context, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	type result struct {
		msg *dns.Msg
		rtt time.Duration
		err error
	}
	done := make(chan result, 1)
	go func() {
		in, rtt, err := r.client.Exchange(msg, r.pickServer())
		done <- result{in, rtt, err}
	}()
	select {
	case res := <-done:
		return res.msg, res.rtt, res.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// complete marks h dispatched and, if it was not concurrently cancelled,
// submits fn to the Executor so the callback runs off the lookup
// goroutine.
func (r *Resolver) complete(h taskqueue.Handle, fn func()) {
	if !r.table.TryDispatch(h) {
		return
	}
	defer r.table.Complete(h)
	r.exec.Submit(fn)
}

func withDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}
