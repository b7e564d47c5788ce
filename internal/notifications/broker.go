package notifications

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	ErrBrokerClosed   = errors.New("broker is closed")
	ErrAlreadySettled = errors.New("delivery already settled")
)

// MessageBroker is the durable event log. Delivery is at-least-once: a
// handler may see the same message more than once.
type MessageBroker interface {
	// DeclareTopology makes sure the topics and their dead-letter topics
	// exist. It is idempotent.
	DeclareTopology(ctx context.Context, topics ...string) error

	// Publish appends a persistent message to topic.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// Subscribe starts delivering topic to handler as a member of group.
	// Each message goes to one member per group. Delivery stops when ctx
	// is cancelled or the broker is closed.
	Subscribe(ctx context.Context, topic, group string, handler Handler) (string, error)

	Close() error
}

// Handler processes one delivery and settles it with Ack or Nack. A handler
// that returns or panics without settling is treated as Nack(true).
type Handler func(ctx context.Context, d *Delivery)

type outcome int

const (
	outcomePending outcome = iota
	outcomeAck
	outcomeRequeue
	outcomeReject
)

// Delivery is one attempt at handing a message to a handler.
type Delivery struct {
	Topic   string
	Key     string
	Body    []byte
	Attempt int

	mu      sync.Mutex
	settled outcome
}

func newDelivery(topic, key string, body []byte, attempt int) *Delivery {
	return &Delivery{Topic: topic, Key: key, Body: body, Attempt: attempt}
}

// Ack removes the message from the log for this group.
func (d *Delivery) Ack() error { return d.settle(outcomeAck) }

// Nack rejects the message. With requeue it is redelivered until the
// delivery limit, otherwise it goes straight to the dead-letter topic.
func (d *Delivery) Nack(requeue bool) error {
	if requeue {
		return d.settle(outcomeRequeue)
	}
	return d.settle(outcomeReject)
}

func (d *Delivery) settle(o outcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled != outcomePending {
		return ErrAlreadySettled
	}
	d.settled = o
	return nil
}

func (d *Delivery) outcome() outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled == outcomePending {
		return outcomeRequeue
	}
	return d.settled
}

func runHandler(ctx context.Context, h Handler, d *Delivery) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notifications: handler panic on %s (attempt %d): %v", d.Topic, d.Attempt, r)
			out = outcomeRequeue
		}
	}()
	h(ctx, d)
	return d.outcome()
}

// DeadLetterTopic names the topic that receives messages a group gave up on.
func DeadLetterTopic(topic string) string { return topic + ".dlq" }

// RedeliveryPolicy bounds how often a requeued message is retried.
type RedeliveryPolicy struct {
	MaxDeliveries int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{MaxDeliveries: 5, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

func (p RedeliveryPolicy) withDefaults() RedeliveryPolicy {
	def := DefaultRedeliveryPolicy()
	if p.MaxDeliveries <= 0 {
		p.MaxDeliveries = def.MaxDeliveries
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = max(def.MaxBackoff, p.BaseBackoff)
	}
	return p
}

// backoff returns a full-jitter delay before the attempt after attempt.
func (p RedeliveryPolicy) backoff(attempt int) time.Duration {
	ceiling := p.MaxBackoff
	if shift := attempt - 1; shift < 30 {
		if d := p.BaseBackoff << shift; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// sleepCtx waits for d or until done is closed. It reports whether the full
// delay elapsed.
func sleepCtx(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
