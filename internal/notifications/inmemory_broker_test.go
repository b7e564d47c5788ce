package notifications

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{MaxDeliveries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestInMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	received := make(chan *Delivery, 1)
	_, err := broker.Subscribe(context.Background(), "orders", "g1", func(_ context.Context, d *Delivery) {
		d.Ack()
		received <- d
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := broker.Publish(context.Background(), "orders", "o1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case d := <-received:
		if d.Key != "o1" || string(d.Body) != `{"x":1}` || d.Attempt != 1 {
			t.Errorf("unexpected delivery: key=%s body=%s attempt=%d", d.Key, d.Body, d.Attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryBroker_OneDeliveryPerGroup(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	var groupA, groupB atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		broker.Subscribe(context.Background(), "orders", "a", func(_ context.Context, d *Delivery) {
			groupA.Add(1)
			d.Ack()
			wg.Done()
		})
	}
	broker.Subscribe(context.Background(), "orders", "b", func(_ context.Context, d *Delivery) {
		groupB.Add(1)
		d.Ack()
		wg.Done()
	})

	broker.Publish(context.Background(), "orders", "k", []byte("m"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both groups")
	}

	time.Sleep(20 * time.Millisecond)
	if groupA.Load() != 1 || groupB.Load() != 1 {
		t.Errorf("expected one delivery per group, got a=%d b=%d", groupA.Load(), groupB.Load())
	}
}

func TestInMemoryBroker_UnsettledIsRedelivered(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	attempts := make(chan int, 10)
	broker.Subscribe(context.Background(), "orders", "g", func(_ context.Context, d *Delivery) {
		attempts <- d.Attempt
		if d.Attempt == 2 {
			d.Ack()
		}
		// attempt 1 returns without settling
	})

	broker.Publish(context.Background(), "orders", "k", []byte("m"))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("expected attempt %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
}

func TestInMemoryBroker_DeadLettersAfterMaxDeliveries(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	var attempts atomic.Int32
	broker.Subscribe(context.Background(), "orders", "g", func(_ context.Context, d *Delivery) {
		attempts.Add(1)
		d.Nack(true)
	})

	dead := make(chan *Delivery, 1)
	broker.Subscribe(context.Background(), DeadLetterTopic("orders"), "dlq", func(_ context.Context, d *Delivery) {
		d.Ack()
		dead <- d
	})

	broker.Publish(context.Background(), "orders", "k", []byte("poison"))

	select {
	case d := <-dead:
		if string(d.Body) != "poison" {
			t.Errorf("unexpected dead letter body %q", d.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts before dead-lettering, got %d", got)
	}
}

func TestInMemoryBroker_RejectGoesStraightToDeadLetter(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	var attempts atomic.Int32
	broker.Subscribe(context.Background(), "orders", "g", func(_ context.Context, d *Delivery) {
		attempts.Add(1)
		d.Nack(false)
	})
	dead := make(chan struct{}, 1)
	broker.Subscribe(context.Background(), DeadLetterTopic("orders"), "dlq", func(_ context.Context, d *Delivery) {
		d.Ack()
		dead <- struct{}{}
	})

	broker.Publish(context.Background(), "orders", "k", []byte("bad"))

	select {
	case <-dead:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestInMemoryBroker_PanicIsRequeued(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	acked := make(chan int, 1)
	broker.Subscribe(context.Background(), "orders", "g", func(_ context.Context, d *Delivery) {
		if d.Attempt == 1 {
			panic("boom")
		}
		d.Ack()
		acked <- d.Attempt
	})

	broker.Publish(context.Background(), "orders", "k", []byte("m"))

	select {
	case attempt := <-acked:
		if attempt != 2 {
			t.Errorf("expected ack on attempt 2, got %d", attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redelivery after panic")
	}
}

func TestInMemoryBroker_CancelledSubscriptionStopsReceiving(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	broker.Subscribe(ctx, "orders", "g", func(_ context.Context, d *Delivery) {
		calls.Add(1)
		d.Ack()
	})
	cancel()

	broker.Publish(context.Background(), "orders", "k", []byte("m"))
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("expected no deliveries after cancel, got %d", calls.Load())
	}
}

func TestInMemoryBroker_ClosePreventsFurtherUse(t *testing.T) {
	broker := NewInMemoryBroker(fastPolicy())
	broker.Close()

	if err := broker.Publish(context.Background(), "orders", "k", nil); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed on publish, got %v", err)
	}
	if _, err := broker.Subscribe(context.Background(), "orders", "g", func(context.Context, *Delivery) {}); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed on subscribe, got %v", err)
	}
	if err := broker.DeclareTopology(context.Background(), "orders"); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed on declare, got %v", err)
	}
	if err := broker.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestDelivery_SettleOnce(t *testing.T) {
	d := newDelivery("t", "k", nil, 1)
	if err := d.Ack(); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := d.Nack(true); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled, got %v", err)
	}
	if d.outcome() != outcomeAck {
		t.Error("expected outcome to remain ack")
	}
}

func TestRedeliveryPolicy_BackoffBounded(t *testing.T) {
	p := RedeliveryPolicy{MaxDeliveries: 5, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	for attempt := 1; attempt <= 40; attempt++ {
		if d := p.backoff(attempt); d < 0 || d > p.MaxBackoff {
			t.Fatalf("attempt %d: backoff %s outside [0, %s]", attempt, d, p.MaxBackoff)
		}
	}
	if d := p.backoff(1); d > p.BaseBackoff {
		t.Errorf("first backoff %s exceeds base %s", d, p.BaseBackoff)
	}
}

func TestRedeliveryPolicy_Defaults(t *testing.T) {
	p := RedeliveryPolicy{}.withDefaults()
	if p.MaxDeliveries != 5 {
		t.Errorf("expected default max deliveries 5, got %d", p.MaxDeliveries)
	}
	if p.MaxBackoff < p.BaseBackoff {
		t.Errorf("max backoff %s below base %s", p.MaxBackoff, p.BaseBackoff)
	}
}
