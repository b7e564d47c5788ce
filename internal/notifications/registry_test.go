package notifications

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func testPush(t *testing.T, typ string) Push {
	t.Helper()
	p, err := NewPush(typ, OrderUpdate{OrderID: "O1", Status: "shipped"})
	if err != nil {
		t.Fatalf("NewPush: %v", err)
	}
	return p
}

func TestRegistry_FailingSinkDoesNotAffectOthers(t *testing.T) {
	r := NewRegistry()
	aud := AdminAudience()
	s1 := &fakeSink{id: "s1"}
	s2 := &fakeSink{id: "s2", fail: true}
	s3 := &fakeSink{id: "s3"}
	for _, s := range []*fakeSink{s1, s2, s3} {
		r.Register(aud, s)
	}

	delivered := r.Deliver(aud, testPush(t, PushOrderUpdated))

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if len(s1.received()) != 1 || len(s3.received()) != 1 {
		t.Error("healthy sinks must receive the push")
	}
	if !s2.isClosed() {
		t.Error("failing sink must be closed")
	}
	if r.Count(aud) != 2 {
		t.Errorf("expected failing sink unregistered, %d left", r.Count(aud))
	}
}

func TestRegistry_ScopedByAudience(t *testing.T) {
	r := NewRegistry()
	v1 := &fakeSink{id: "v1"}
	v2 := &fakeSink{id: "v2"}
	admin := &fakeSink{id: "a"}
	r.Register(VendorAudience("V1"), v1)
	r.Register(VendorAudience("V2"), v2)
	r.Register(AdminAudience(), admin)

	r.Broadcast(context.Background(), VendorAudience("V1"), testPush(t, PushOrderDelayed))

	if len(v1.received()) != 1 {
		t.Error("V1 should receive its push")
	}
	if len(v2.received()) != 0 || len(admin.received()) != 0 {
		t.Error("other audiences must not receive V1's push")
	}
	if n := r.Deliver(CustomerAudience("nobody"), testPush(t, PushOrderDelayed)); n != 0 {
		t.Errorf("expected no deliveries to an empty audience, got %d", n)
	}
}

func TestRegistry_UnregisterAndCloseAll(t *testing.T) {
	r := NewRegistry()
	aud := CustomerAudience("C1")
	s := &fakeSink{id: "s"}
	r.Register(aud, s)

	if !r.Unregister(aud, s) {
		t.Fatal("expected first unregister to succeed")
	}
	if r.Unregister(aud, s) {
		t.Error("expected second unregister to report false")
	}

	s2 := &fakeSink{id: "s2"}
	r.Register(aud, s2)
	r.CloseAll()
	if !s2.isClosed() || r.Count(aud) != 0 {
		t.Error("CloseAll must close and forget every sink")
	}
}

func TestRegistry_ConcurrentRegisterAndDeliver(t *testing.T) {
	r := NewRegistry()
	aud := AdminAudience()
	p := testPush(t, PushOrderUpdated)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := &fakeSink{id: string(rune('a' + i))}
			r.Register(aud, s)
			r.Unregister(aud, s)
		}(i)
		go func() {
			defer wg.Done()
			r.Deliver(aud, p)
		}()
	}
	wg.Wait()
	if r.Count(aud) != 0 {
		t.Errorf("expected empty registry, got %d", r.Count(aud))
	}
}

// recordingWriter is a frameWriter capturing frames.
type recordingWriter struct {
	mu         sync.Mutex
	pushes     []Push
	heartbeats int
	closed     bool
	block      chan struct{}
	failWith   error
}

func (w *recordingWriter) writePush(p Push) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.pushes = append(w.pushes, p)
	return nil
}

func (w *recordingWriter) writeHeartbeat() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.heartbeats++
	return nil
}

func (w *recordingWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) snapshot() (int, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pushes), w.heartbeats, w.closed
}

func TestQueuedSink_WritesAndHeartbeats(t *testing.T) {
	w := &recordingWriter{}
	s := newQueuedSink(w, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	s.Send(testPush(t, PushOrderUpdated))
	waitFor(t, time.Second, func() bool {
		pushes, beats, _ := w.snapshot()
		return pushes == 1 && beats >= 1
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean exit, got %v", err)
	}
	if _, _, closed := w.snapshot(); !closed {
		t.Error("expected writer closed")
	}
	if err := s.Send(testPush(t, PushOrderUpdated)); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed after run ends, got %v", err)
	}
}

func TestQueuedSink_SlowConsumer(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	s := newQueuedSink(w, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	p := testPush(t, PushOrderUpdated)
	var err error
	for i := 0; i < sinkQueueSize+2; i++ {
		if err = s.Send(p); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("expected ErrSlowConsumer once the queue fills, got %v", err)
	}
	close(w.block)
}

func TestQueuedSink_WriteFailureEndsRun(t *testing.T) {
	w := &recordingWriter{failWith: errors.New("broken pipe")}
	s := newQueuedSink(w, 0)
	s.Send(testPush(t, PushOrderUpdated))

	if err := s.run(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if _, _, closed := w.snapshot(); !closed {
		t.Error("expected writer closed after failure")
	}
}

func TestRegistry_LogsUnderLivePrefix(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	r := NewRegistry()
	broken := &fakeSink{id: "ws-1", fail: true}
	r.Register(VendorAudience("V1"), broken)
	r.Deliver(VendorAudience("V1"), testPush(t, PushOrderUpdated))

	out := buf.String()
	for _, want := range []string{
		"notifications live: sink ws-1 registered",
		"notifications live: dropping sink ws-1",
		"notifications live: sink ws-1 unregistered",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output %q", want, out)
		}
	}
}
