package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies what happened. It travels on the event log.
type EventKind string

const (
	KindVendorRegistered       EventKind = "vendor.registered"
	KindOrderStatusChanged     EventKind = "order.status_changed"
	KindOrderDelayedEscalation EventKind = "order.delayed_escalation"
)

// Topic names on the event log.
const (
	TopicVendorRegistered = "notifications.vendor_registered"
	TopicLive             = "notifications.live"
)

// NotifType classifies a stored record for display. One event can be
// materialized with different types per recipient role.
type NotifType string

const (
	NotifVendorRegistered       NotifType = "vendor_registered"
	NotifOrderStatusChanged     NotifType = "order_status_changed"
	NotifOrderDelayedEscalation NotifType = "order_delayed_escalation"
	NotifOrderDelayed           NotifType = "order_delayed"
)

// Payload carries the kind-specific fields of an event. Order events set
// OrderID and vendor events set VendorID.
type Payload struct {
	OrderID          string  `json:"orderId,omitempty"`
	VendorUsername   string  `json:"vendorUsername,omitempty"`
	CustomerUsername string  `json:"customerUsername,omitempty"`
	Status           string  `json:"status,omitempty"`
	PreviousStatus   string  `json:"previousStatus,omitempty"`
	Total            float64 `json:"total,omitempty"`
	OrderCreatedAt   string  `json:"orderCreatedAt,omitempty"`

	VendorID    string `json:"vendorId,omitempty"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Event is the unit published on the event log.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"eventKind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// NewEvent creates an Event with a generated UUID and the given timestamp.
func NewEvent(kind EventKind, payload Payload, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

// EntityID returns the id used for targeted deletion of the event's records.
func (e Event) EntityID() string {
	if e.Payload.OrderID != "" {
		return e.Payload.OrderID
	}
	return e.Payload.VendorID
}

// Validate checks that the event can be materialized.
func (e Event) Validate() error {
	switch e.Kind {
	case KindVendorRegistered:
		if e.Payload.VendorID == "" {
			return fmt.Errorf("%s event without vendorId", e.Kind)
		}
	case KindOrderStatusChanged, KindOrderDelayedEscalation:
		if e.Payload.OrderID == "" {
			return fmt.Errorf("%s event without orderId", e.Kind)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// DecodeEvent parses and validates an event read from the log.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Record is the materialized, per-recipient form of an Event. Records are
// never updated; clearing deletes them.
type Record struct {
	Event
	NotifType NotifType `json:"_notifType"`
}

func (e Event) Materialize(t NotifType) Record {
	return Record{Event: e, NotifType: t}
}

// Push types sent to live connections.
const (
	PushOrderUpdated           = "order.updated"
	PushOrderDelayedEscalation = "order.delayed_escalation"
	PushOrderDelayed           = "order.delayed"
	PushVendorRegistered       = "vendor.registered"
)

// Push is a transient live update. The durable copy lives in the store.
type Push struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewPush marshals data into a Push of the given type.
func NewPush(pushType string, data interface{}) (Push, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Push{}, fmt.Errorf("marshal %s push: %w", pushType, err)
	}
	return Push{Type: pushType, Data: raw}, nil
}

// OrderUpdate is the data of an order.updated push.
type OrderUpdate struct {
	OrderID          string `json:"orderId"`
	VendorUsername   string `json:"vendorUsername"`
	CustomerUsername string `json:"customerUsername"`
	Status           string `json:"status"`
	PreviousStatus   string `json:"previousStatus,omitempty"`
	Removed          bool   `json:"removed"`
}
