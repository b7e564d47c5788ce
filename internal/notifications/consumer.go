package notifications

import (
	"context"
	"log"
)

// Consumer materializes vendor.registered events from the event log into
// the admin vendor-registration feed. Redelivered events are absorbed by
// the Guard.
type Consumer struct {
	broker MessageBroker
	group  string
	feeds  *Feeds
	guard  *Guard
	live   Broadcaster
}

func NewConsumer(broker MessageBroker, group string, store Store, guard *Guard, live Broadcaster) *Consumer {
	return &Consumer{
		broker: broker,
		group:  group,
		feeds:  NewFeeds(store),
		guard:  guard,
		live:   live,
	}
}

// Start declares the topology and subscribes. Event handling then runs
// asynchronously until ctx is cancelled or the broker is closed.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.broker.DeclareTopology(ctx, TopicVendorRegistered); err != nil {
		return err
	}
	if _, err := c.broker.Subscribe(ctx, TopicVendorRegistered, c.group, c.Handle); err != nil {
		return err
	}
	log.Printf("notifications consumer: subscribed to %s as %s", TopicVendorRegistered, c.group)
	return nil
}

// Handle processes one delivery. Malformed messages are rejected to the
// dead-letter topic; infrastructure failures are requeued.
func (c *Consumer) Handle(ctx context.Context, d *Delivery) {
	ev, err := DecodeEvent(d.Body)
	if err != nil || ev.Kind != KindVendorRegistered {
		log.Printf("notifications consumer: rejecting message on %s: %v", d.Topic, err)
		d.Nack(false)
		return
	}
	vendorID := ev.Payload.VendorID

	done, err := c.guard.AlreadyProcessed(ctx, vendorID)
	if err != nil {
		log.Printf("notifications consumer: idempotency check for vendor %s failed: %v", vendorID, err)
		d.Nack(true)
		return
	}
	if done {
		log.Printf("notifications consumer: vendor %s already materialized, skipping redelivery", vendorID)
		d.Ack()
		return
	}

	rec := ev.Materialize(NotifVendorRegistered)
	if err := c.feeds.Materialize(ctx, adminVendorRegistrationsFeed, vendorRegistrationKey(vendorID), rec, VendorRegistrationTTL); err != nil {
		log.Printf("notifications consumer: materializing vendor %s failed (attempt %d): %v", vendorID, d.Attempt, err)
		d.Nack(true)
		return
	}

	// Marked only after materialization so a crash above means a retry.
	if err := c.guard.MarkProcessed(ctx, vendorID); err != nil {
		log.Printf("notifications consumer: marking vendor %s processed failed: %v", vendorID, err)
	}

	if c.live != nil {
		if push, err := NewPush(PushVendorRegistered, rec); err == nil {
			c.live.Broadcast(ctx, AdminAudience(), push)
		}
	}
	d.Ack()
}
