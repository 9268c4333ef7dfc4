package engine_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/ioengine/buffer"
	"github.com/momentics/ioengine/engine"
	"github.com/momentics/ioengine/status"
	"github.com/momentics/ioengine/transport"
)

func TestEngineListenerConnectRoundTrip(t *testing.T) {
	e := engine.New(engine.DefaultConfig())
	defer e.Close()

	ln := e.NewListener()
	if st := ln.Bind("ipv4:127.0.0.1:0"); !st.Ok() {
		t.Fatalf("Bind: %v", st)
	}
	accepted := make(chan *transport.Endpoint, 1)
	if st := ln.Start(func(ep *transport.Endpoint) { accepted <- ep }); !st.Ok() {
		t.Fatalf("Start: %v", st)
	}

	dialURI := ln.Addrs()[0].String()

	var wg sync.WaitGroup
	wg.Add(1)
	var clientEp *transport.Endpoint
	e.Connect(dialURI, time.Now().Add(2*time.Second), func(ep *transport.Endpoint, st status.Status) {
		clientEp = ep
		wg.Done()
	})
	wg.Wait()
	if clientEp == nil {
		t.Fatal("Connect produced no endpoint")
	}
	serverEp := <-accepted

	payload := []byte("engine round trip")
	sb := buffer.NewSliceBuffer(1)
	sb.Append(buffer.NewSlice(payload))

	var writeWG sync.WaitGroup
	writeWG.Add(1)
	clientEp.Write(sb, func(int, status.Status) { writeWG.Done() })
	writeWG.Wait()

	var readWG sync.WaitGroup
	readWG.Add(1)
	var got []byte
	serverEp.Read(1024, func(rb *buffer.SliceBuffer, st status.Status) {
		got = rb.Bytes()
		readWG.Done()
	})
	readWG.Wait()

	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	clientEp.Close()
	serverEp.Close()
	e.CloseListener(ln, nil)
}

func TestEngineCloseWaitsForOutstandingTask(t *testing.T) {
	e := engine.New(engine.DefaultConfig())

	var ran atomic.Bool
	e.RunAt(time.Now().Add(50*time.Millisecond), func() { ran.Store(true) })

	e.Close()
	if !ran.Load() {
		t.Fatal("Close returned before a tracked pending task ran")
	}
}

func TestEngineClosePanicsWhenWorkNeverCompletes(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.ShutdownGracePeriod = 30 * time.Millisecond
	e := engine.New(cfg)

	block := make(chan struct{})
	defer close(block)

	e.RunNow(func() { <-block })

	defer func() {
		if recover() == nil {
			t.Fatal("expected Close to panic when outstanding work never completes")
		}
	}()
	e.Close()
}
