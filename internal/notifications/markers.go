package notifications

import (
	"context"
	"strconv"
	"time"
)

// Guard records which vendor registrations have already been materialized,
// absorbing redelivery from the event log. The check and the mark are
// separate calls; callers mark only after materialization succeeded.
type Guard struct {
	store Store
	ttl   time.Duration
}

func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Guard{store: store, ttl: ttl}
}

func (g *Guard) AlreadyProcessed(ctx context.Context, vendorID string) (bool, error) {
	return g.store.Exists(ctx, idempotencyKey(vendorID))
}

func (g *Guard) MarkProcessed(ctx context.Context, vendorID string) error {
	return g.store.SetIndividual(ctx, idempotencyKey(vendorID), []byte("1"), g.ttl)
}

// Acks holds per-recipient acknowledgement markers for delayed orders. An
// acknowledgement hides the order from that recipient only.
type Acks struct {
	store Store
	now   func() time.Time
}

func NewAcks(store Store) *Acks {
	return &Acks{store: store, now: time.Now}
}

func (a *Acks) Acknowledge(ctx context.Context, aud Audience, orderID string) error {
	stamp := strconv.FormatInt(a.now().Unix(), 10)
	return a.store.SetIndividual(ctx, aud.ackKey(orderID), []byte(stamp), AckTTL)
}

func (a *Acks) Acknowledged(ctx context.Context, aud Audience, orderID string) (bool, error) {
	return a.store.Exists(ctx, aud.ackKey(orderID))
}

// Escalations remembers which orders the sweeper already escalated. The
// marker outlives admin clears so a cleared escalation is not re-sent;
// only terminal cleanup removes it.
type Escalations struct {
	store Store
}

func NewEscalations(store Store) *Escalations {
	return &Escalations{store: store}
}

func (e *Escalations) Escalated(ctx context.Context, orderID string) (bool, error) {
	return e.store.Exists(ctx, escalationKey(orderID))
}

func (e *Escalations) MarkEscalated(ctx context.Context, orderID string) error {
	return e.store.SetIndividual(ctx, escalationKey(orderID), []byte("1"), DelayedOrderTTL)
}

func (e *Escalations) Forget(ctx context.Context, orderID string) error {
	return e.store.DeleteIndividual(ctx, escalationKey(orderID))
}
