package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

// collectingBroker is a test double that records published messages.
type collectingBroker struct {
	mu       sync.Mutex
	messages []publishedMessage
	declared []string
	failWith error
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

func (b *collectingBroker) DeclareTopology(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, topics...)
	return nil
}

func (b *collectingBroker) Publish(_ context.Context, topic, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.messages = append(b.messages, publishedMessage{topic: topic, key: key, value: value})
	return nil
}

func (b *collectingBroker) Subscribe(context.Context, string, string, Handler) (string, error) {
	return "sub-1", nil
}

func (b *collectingBroker) Close() error { return nil }

func (b *collectingBroker) getMessages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]publishedMessage, len(b.messages))
	copy(cp, b.messages)
	return cp
}

// recordingBroadcaster captures pushes per audience.
type recordingBroadcaster struct {
	mu     sync.Mutex
	pushes map[Audience][]Push
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{pushes: make(map[Audience][]Push)}
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, aud Audience, p Push) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes[aud] = append(r.pushes[aud], p)
}

func (r *recordingBroadcaster) get(aud Audience) []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Push(nil), r.pushes[aud]...)
}

// fakeSink records pushes or fails every Send.
type fakeSink struct {
	id     string
	fail   bool
	mu     sync.Mutex
	got    []Push
	closed bool
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Send(p Push) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.got = append(s.got, p)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) received() []Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Push(nil), s.got...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeOrders is an in-memory OrderLister honouring DelayedFilter.
type fakeOrders struct {
	mu     sync.Mutex
	orders []orders.Order
}

func (f *fakeOrders) ListDelayed(_ context.Context, flt orders.DelayedFilter) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Order
	for _, o := range f.orders {
		if o.Status.Terminal() || !o.CreatedAt.Before(flt.CreatedBefore) {
			continue
		}
		if flt.VendorUsername != "" && o.VendorUsername != flt.VendorUsername {
			continue
		}
		if flt.CustomerUsername != "" && o.CustomerUsername != flt.CustomerUsername {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeOrders) setStatus(id string, st orders.Status) orders.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orders {
		if f.orders[i].ID == id {
			f.orders[i].Status = st
			return f.orders[i]
		}
	}
	return orders.Order{}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

// storeFactories runs a test against every Store implementation.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
