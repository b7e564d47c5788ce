package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type liveMessage struct {
	Audience Audience `json:"audience"`
	Push     Push     `json:"push"`
}

// Relay broadcasts through the event log so that every instance delivers
// a push to its own live connections, whichever instance produced it.
type Relay struct {
	broker MessageBroker
	local  *Registry
	group  string
}

// NewRelay creates a Relay feeding local. instanceID must be unique per
// process so each instance consumes every push.
func NewRelay(broker MessageBroker, local *Registry, instanceID string) *Relay {
	return &Relay{broker: broker, local: local, group: "live-" + instanceID}
}

// Start declares the live topic and subscribes this instance to it.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.broker.DeclareTopology(ctx, TopicLive); err != nil {
		return fmt.Errorf("declare live topic: %w", err)
	}
	if _, err := r.broker.Subscribe(ctx, TopicLive, r.group, r.handle); err != nil {
		return fmt.Errorf("subscribe live topic: %w", err)
	}
	log.Printf("notifications: live relay subscribed as %s", r.group)
	return nil
}

// Broadcast publishes p for all instances. If the publish fails the push is
// still delivered to this instance's connections.
func (r *Relay) Broadcast(ctx context.Context, aud Audience, p Push) {
	data, err := json.Marshal(liveMessage{Audience: aud, Push: p})
	if err != nil {
		log.Printf("notifications: relay marshal failed: %v", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := r.broker.Publish(pubCtx, TopicLive, aud.String(), data); err != nil {
		log.Printf("notifications: relay publish failed, delivering locally: %v", err)
		r.local.Deliver(aud, p)
	}
}

func (r *Relay) handle(_ context.Context, d *Delivery) {
	var msg liveMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || !msg.Audience.Valid() {
		log.Printf("notifications: relay dropping malformed live message: %v", err)
		d.Nack(false)
		return
	}
	r.local.Deliver(msg.Audience, msg.Push)
	d.Ack()
}
