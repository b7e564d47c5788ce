package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/vendors"
)

const publishTimeout = 5 * time.Second

// Producer turns domain actions into notifications. None of its methods
// fail the action that triggered them.
type Producer struct {
	broker  MessageBroker
	breaker *gobreaker.CircuitBreaker[struct{}]
	feeds       *Feeds
	store       Store
	escalations *Escalations
	live        Broadcaster
	now         func() time.Time
}

func NewProducer(broker MessageBroker, store Store, live Broadcaster) *Producer {
	return &Producer{
		broker: broker,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "event-log-publish",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("notifications: breaker %s %s -> %s", name, from, to)
			},
		}),
		feeds:       NewFeeds(store),
		store:       store,
		escalations: NewEscalations(store),
		live:        live,
		now:         time.Now,
	}
}

// PublishVendorRegistered publishes a vendor.registered event to the event
// log. Materialization is left to the Consumer.
func (p *Producer) PublishVendorRegistered(ctx context.Context, v vendors.Vendor) {
	ev := NewEvent(KindVendorRegistered, Payload{
		VendorID:    v.ID,
		Username:    v.Username,
		Email:       v.Email,
		CompanyName: v.CompanyName,
		Phone:       v.Phone,
	}, p.now())

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notifications: failed to marshal vendor.registered for %s: %v", v.ID, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.broker.Publish(pubCtx, TopicVendorRegistered, v.ID, data)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Printf("WARNING: notifications: event log unavailable, vendor.registered for %s not published", v.ID)
	case err != nil:
		log.Printf("WARNING: notifications: failed to publish vendor.registered for %s: %v", v.ID, err)
	}
}

func orderPayload(o orders.Order) Payload {
	return Payload{
		OrderID:          o.ID,
		VendorUsername:   o.VendorUsername,
		CustomerUsername: o.CustomerUsername,
		Status:           string(o.Status),
		Total:            o.Total,
		OrderCreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// PublishDelayedOrderNotification writes an order.delayed_escalation event
// straight into the admin, vendor and customer feeds and pushes it live.
// Failures on individual feeds do not stop the others.
func (p *Producer) PublishDelayedOrderNotification(ctx context.Context, o orders.Order) error {
	ev := NewEvent(KindOrderDelayedEscalation, orderPayload(o), p.now())
	vendor := VendorAudience(o.VendorUsername)
	customer := CustomerAudience(o.CustomerUsername)

	escalation := ev.Materialize(NotifOrderDelayedEscalation)
	delayed := ev.Materialize(NotifOrderDelayed)

	err := errors.Join(
		p.feeds.Materialize(ctx, adminDelayedOrdersFeed, delayedOrderKey(o.ID), escalation, DelayedOrderTTL),
		p.feeds.Materialize(ctx, vendor.feedKey(), vendor.orderKey(o.ID), delayed, RecipientFeedTTL),
		p.feeds.Materialize(ctx, customer.feedKey(), customer.orderKey(o.ID), delayed, RecipientFeedTTL),
	)
	if err != nil {
		log.Printf("WARNING: notifications: delayed order %s only partly materialized: %v", o.ID, err)
	}

	p.push(ctx, AdminAudience(), PushOrderDelayedEscalation, escalation)
	p.push(ctx, vendor, PushOrderDelayed, delayed)
	p.push(ctx, customer, PushOrderDelayed, delayed)
	return err
}

// NotifyStatusChange records an order.status_changed notification for the
// customer. Terminal statuses also clear the order's delayed notifications.
// The status is already committed, so the writes outlive ctx.
func (p *Producer) NotifyStatusChange(ctx context.Context, o orders.Order, previous orders.Status) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	payload := orderPayload(o)
	payload.PreviousStatus = string(previous)
	rec := NewEvent(KindOrderStatusChanged, payload, p.now()).Materialize(NotifOrderStatusChanged)

	customer := CustomerAudience(o.CustomerUsername)
	if err := p.feeds.Materialize(ctx, customer.feedKey(), orderStatusKey(o.CustomerUsername, o.ID), rec, RecipientFeedTTL); err != nil {
		log.Printf("WARNING: notifications: status change for order %s not recorded: %v", o.ID, err)
	}

	update := OrderUpdate{
		OrderID:          o.ID,
		VendorUsername:   o.VendorUsername,
		CustomerUsername: o.CustomerUsername,
		Status:           string(o.Status),
		PreviousStatus:   string(previous),
		Removed:          o.Status.Terminal(),
	}
	if update.Removed {
		if err := p.clearDelayed(ctx, o); err != nil {
			log.Printf("WARNING: notifications: cleanup for terminal order %s incomplete: %v", o.ID, err)
		}
	}

	p.push(ctx, AdminAudience(), PushOrderUpdated, update)
	p.push(ctx, VendorAudience(o.VendorUsername), PushOrderUpdated, update)
	p.push(ctx, customer, PushOrderUpdated, update)
}

// clearDelayed removes o's delayed notifications for every audience along
// with the sweeper's marker.
func (p *Producer) clearDelayed(ctx context.Context, o orders.Order) error {
	vendor := VendorAudience(o.VendorUsername)
	customer := CustomerAudience(o.CustomerUsername)

	errs := []error{
		p.store.DeleteIndividual(ctx, delayedOrderKey(o.ID), vendor.orderKey(o.ID), customer.orderKey(o.ID)),
		p.escalations.Forget(ctx, o.ID),
	}
	feeds := []struct {
		key string
		ttl time.Duration
	}{
		{adminDelayedOrdersFeed, DelayedOrderTTL},
		{vendor.feedKey(), RecipientFeedTTL},
		{customer.feedKey(), RecipientFeedTTL},
	}
	for _, f := range feeds {
		if _, err := p.feeds.RemoveDelayed(ctx, f.key, o.ID, f.ttl); err != nil {
			errs = append(errs, fmt.Errorf("filter %s: %w", f.key, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Producer) push(ctx context.Context, aud Audience, pushType string, data interface{}) {
	if p.live == nil {
		return
	}
	push, err := NewPush(pushType, data)
	if err != nil {
		log.Printf("notifications: %v", err)
		return
	}
	p.live.Broadcast(ctx, aud, push)
}
