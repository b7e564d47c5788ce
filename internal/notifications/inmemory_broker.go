package notifications

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memMessage struct {
	topic string
	key   string
	value []byte
}

type memSubscription struct {
	id      string
	ctx     context.Context
	handler Handler
}

// memGroup delivers a topic to one member at a time, round robin.
type memGroup struct {
	name  string
	queue chan memMessage

	mu   sync.Mutex
	subs []*memSubscription
	next int
}

func (g *memGroup) nextSubscription() *memSubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.subs) > 0 {
		s := g.subs[g.next%len(g.subs)]
		g.next++
		if s.ctx.Err() == nil {
			return s
		}
		g.remove(s.id)
	}
	return nil
}

// remove drops a subscription. Caller holds g.mu.
func (g *memGroup) remove(id string) {
	for i, s := range g.subs {
		if s.id == id {
			g.subs = append(g.subs[:i], g.subs[i+1:]...)
			return
		}
	}
}

// InMemoryBroker is a single-process MessageBroker backed by Go channels,
// for development and single-node deployments. Messages published to a
// topic with no groups are dropped.
type InMemoryBroker struct {
	policy RedeliveryPolicy

	mu      sync.RWMutex // guards closed and eventCh sends
	closed  bool
	eventCh chan memMessage

	subMu  sync.RWMutex
	topics map[string]map[string]*memGroup // topic -> group -> members

	quit    chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
}

// NewInMemoryBroker creates and starts an InMemoryBroker. Call Close to stop
// its goroutines.
func NewInMemoryBroker(policy RedeliveryPolicy) *InMemoryBroker {
	b := &InMemoryBroker{
		policy:  policy.withDefaults(),
		eventCh: make(chan memMessage, 1024),
		topics:  make(map[string]map[string]*memGroup),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *InMemoryBroker) DeclareTopology(_ context.Context, topics ...string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, t := range topics {
		for _, name := range []string{t, DeadLetterTopic(t)} {
			if _, ok := b.topics[name]; !ok {
				b.topics[name] = make(map[string]*memGroup)
			}
		}
	}
	return nil
}

// Publish enqueues a message for asynchronous delivery.
func (b *InMemoryBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	msg := memMessage{topic: topic, key: key, value: append([]byte(nil), value...)}
	select {
	case b.eventCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBroker) Subscribe(ctx context.Context, topic, group string, handler Handler) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", ErrBrokerClosed
	}

	sub := &memSubscription{id: uuid.New().String(), ctx: ctx, handler: handler}

	b.subMu.Lock()
	groups, ok := b.topics[topic]
	if !ok {
		groups = make(map[string]*memGroup)
		b.topics[topic] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &memGroup{name: group, queue: make(chan memMessage, 256)}
		groups[group] = g
		b.workers.Add(1)
		go b.work(g)
	}
	b.subMu.Unlock()

	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()

	return sub.id, nil
}

// Close stops dispatching. Messages still queued are discarded.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.quit)
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	b.workers.Wait()
	return nil
}

// dispatch copies every published message onto the queue of each group
// subscribed to its topic.
func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for msg := range b.eventCh {
		b.subMu.RLock()
		groups := make([]*memGroup, 0, len(b.topics[msg.topic]))
		for _, g := range b.topics[msg.topic] {
			groups = append(groups, g)
		}
		b.subMu.RUnlock()

		for _, g := range groups {
			select {
			case g.queue <- msg:
			case <-b.quit:
				return
			}
		}
	}
}

// work delivers a group's messages one at a time.
func (b *InMemoryBroker) work(g *memGroup) {
	defer b.workers.Done()
	for {
		select {
		case <-b.quit:
			return
		case msg := <-g.queue:
			b.deliver(g, msg)
		}
	}
}

func (b *InMemoryBroker) deliver(g *memGroup, msg memMessage) {
	for attempt := 1; ; attempt++ {
		sub := g.nextSubscription()
		if sub == nil {
			log.Printf("notifications: no live subscriber in group %s for %s, dropping message", g.name, msg.topic)
			return
		}

		d := newDelivery(msg.topic, msg.key, msg.value, attempt)
		switch runHandler(sub.ctx, sub.handler, d) {
		case outcomeAck:
			return
		case outcomeReject:
			b.deadLetter(msg, "rejected")
			return
		default:
			if attempt >= b.policy.MaxDeliveries {
				b.deadLetter(msg, "max deliveries exceeded")
				return
			}
			if !sleepCtx(b.quit, b.policy.backoff(attempt)) {
				return
			}
		}
	}
}

func (b *InMemoryBroker) deadLetter(msg memMessage, reason string) {
	log.Printf("notifications: dead-lettering message on %s (key=%s): %s", msg.topic, msg.key, reason)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Publish(ctx, DeadLetterTopic(msg.topic), msg.key, msg.value); err != nil {
		log.Printf("notifications: dead-letter publish failed: %v", err)
	}
}
