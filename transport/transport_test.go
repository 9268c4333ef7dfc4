package transport_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/concurrency"
	"github.com/momentics/ioengine/quota"
	"github.com/momentics/ioengine/status"
	"github.com/momentics/ioengine/transport"
)

func newHarness(t *testing.T) (*concurrency.Executor, *quota.Quota) {
	exec := concurrency.New(4)
	t.Cleanup(exec.Close)
	return exec, quota.NewRootQuota("test", 0)
}

func TestListenerAcceptAndEchoRoundTrip(t *testing.T) {
	exec, q := newHarness(t)

	ln := transport.New(exec, q)
	if st := ln.Bind("ipv4:127.0.0.1:0"); !st.Ok() {
		t.Fatalf("Bind: %v", st)
	}

	var serverEp *transport.Endpoint
	accepted := make(chan struct{})
	if st := ln.Start(func(ep *transport.Endpoint) {
		serverEp = ep
		close(accepted)
	}); !st.Ok() {
		t.Fatalf("Start: %v", st)
	}
	t.Cleanup(func() { ln.Close(nil) })

	addrs := ln.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("got %d bound addresses, want 1", len(addrs))
	}
	dialURI := addrs[0].String()
	connector := transport.NewConnector(exec, q)

	var clientEp *transport.Endpoint
	var connectStatus status.Status
	var wg sync.WaitGroup
	wg.Add(1)
	connector.Connect(dialURI, time.Now().Add(2*time.Second), func(ep *transport.Endpoint, st status.Status) {
		clientEp = ep
		connectStatus = st
		wg.Done()
	})
	wg.Wait()
	if !connectStatus.Ok() {
		t.Fatalf("Connect failed: %v", connectStatus)
	}

	<-accepted

	payload := []byte("round trip payload")
	sb := buffer.NewSliceBuffer(1)
	sb.Append(buffer.NewSlice(payload))

	var writeWG sync.WaitGroup
	writeWG.Add(1)
	clientEp.Write(sb, func(n int, st status.Status) {
		if !st.Ok() || n != len(payload) {
			t.Errorf("Write: n=%d st=%v", n, st)
		}
		writeWG.Done()
	})
	writeWG.Wait()

	var readWG sync.WaitGroup
	readWG.Add(1)
	var got []byte
	serverEp.Read(1024, func(rb *buffer.SliceBuffer, st status.Status) {
		if !st.Ok() {
			t.Errorf("Read: %v", st)
		}
		got = rb.Bytes()
		readWG.Done()
	})
	readWG.Wait()

	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestOverlappingReadPanics(t *testing.T) {
	exec, q := newHarness(t)
	ln := transport.New(exec, q)
	if st := ln.Bind("ipv4:127.0.0.1:0"); !st.Ok() {
		t.Fatalf("Bind: %v", st)
	}
	accepted := make(chan *transport.Endpoint, 1)
	ln.Start(func(ep *transport.Endpoint) { accepted <- ep })
	t.Cleanup(func() { ln.Close(nil) })

	dialURI := ln.Addrs()[0].String()
	connector := transport.NewConnector(exec, q)
	var wg sync.WaitGroup
	wg.Add(1)
	var clientEp *transport.Endpoint
	connector.Connect(dialURI, time.Now().Add(2*time.Second), func(ep *transport.Endpoint, st status.Status) {
		clientEp = ep
		wg.Done()
	})
	wg.Wait()
	<-accepted

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping Read")
		}
	}()
	clientEp.Read(16, func(*buffer.SliceBuffer, status.Status) {})
	clientEp.Read(16, func(*buffer.SliceBuffer, status.Status) {})
}

func TestCloseDuringPendingReadDeliversCancelled(t *testing.T) {
	exec, q := newHarness(t)
	ln := transport.New(exec, q)
	if st := ln.Bind("ipv4:127.0.0.1:0"); !st.Ok() {
		t.Fatalf("Bind: %v", st)
	}
	accepted := make(chan *transport.Endpoint, 1)
	ln.Start(func(ep *transport.Endpoint) { accepted <- ep })
	t.Cleanup(func() { ln.Close(nil) })

	dialURI := ln.Addrs()[0].String()
	connector := transport.NewConnector(exec, q)
	var wg sync.WaitGroup
	wg.Add(1)
	connector.Connect(dialURI, time.Now().Add(2*time.Second), func(*transport.Endpoint, status.Status) {
		wg.Done()
	})
	wg.Wait()
	serverEp := <-accepted

	readDone := make(chan status.Status, 1)
	var calls int32
	serverEp.Read(16, func(_ *buffer.SliceBuffer, st status.Status) {
		atomic.AddInt32(&calls, 1)
		readDone <- st
	})

	// Give readOnce a moment to actually reach the blocking conn.Read
	// before Close races it.
	time.Sleep(10 * time.Millisecond)
	serverEp.Close()

	select {
	case st := <-readDone:
		if st.Kind() != status.Cancelled {
			t.Fatalf("Read after Close: got %v, want Cancelled", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read callback never ran after Close")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("Read callback ran %d times, want exactly 1", got)
	}
}

func TestFatalIOErrorFailsEndpointForSubsequentIO(t *testing.T) {
	exec, q := newHarness(t)
	ln := transport.New(exec, q)
	if st := ln.Bind("ipv4:127.0.0.1:0"); !st.Ok() {
		t.Fatalf("Bind: %v", st)
	}
	accepted := make(chan *transport.Endpoint, 1)
	ln.Start(func(ep *transport.Endpoint) { accepted <- ep })
	t.Cleanup(func() { ln.Close(nil) })

	dialURI := ln.Addrs()[0].String()
	connector := transport.NewConnector(exec, q)
	var wg sync.WaitGroup
	wg.Add(1)
	var clientEp *transport.Endpoint
	connector.Connect(dialURI, time.Now().Add(2*time.Second), func(ep *transport.Endpoint, st status.Status) {
		clientEp = ep
		wg.Done()
	})
	wg.Wait()
	serverEp := <-accepted

	// Close the peer out from under the server's pending Read: the next
	// Read observes a real I/O error (not a local Close), which must mark
	// the endpoint failed rather than leave it retryable.
	readDone := make(chan status.Status, 1)
	serverEp.Read(16, func(_ *buffer.SliceBuffer, st status.Status) { readDone <- st })
	clientEp.Close()

	firstErr := <-readDone
	if firstErr.Ok() {
		t.Fatalf("Read after peer close: got Ok, want an error")
	}

	secondDone := make(chan status.Status, 1)
	serverEp.Read(16, func(_ *buffer.SliceBuffer, st status.Status) { secondDone <- st })
	select {
	case st := <-secondDone:
		if st.Kind() != status.Unreachable {
			t.Fatalf("Read on a failed endpoint: got %v, want Unreachable", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read on a failed endpoint never returned")
	}
}

func TestCancelConnectBeforeDialPreventsCallback(t *testing.T) {
	exec, q := newHarness(t)
	connector := transport.NewConnector(exec, q)

	called := make(chan struct{}, 1)
	h, st := connector.Connect("ipv4:10.255.255.1:9", time.Now().Add(5*time.Second), func(*transport.Endpoint, status.Status) {
		called <- struct{}{}
	})
	if !st.Ok() {
		t.Fatalf("Connect setup failed: %v", st)
	}
	connector.CancelConnect(h)

	select {
	case <-called:
		t.Fatal("callback fired after CancelConnect raced the dial's cancellation")
	case <-time.After(200 * time.Millisecond):
	}
}
