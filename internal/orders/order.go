package orders

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrTerminal      = errors.New("order is already in a terminal status")
	ErrInvalidStatus = errors.New("invalid order status")
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusInTransit,
	StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusReturned,
}

// Terminal reports whether no further status notifications are meaningful.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// TerminalStatuses returns the statuses for which Terminal is true.
func TerminalStatuses() []Status {
	return []Status{StatusDelivered, StatusCancelled, StatusReturned}
}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type Order struct {
	ID               string    `json:"id"`
	VendorUsername   string    `json:"vendorUsername"`
	CustomerUsername string    `json:"customerUsername"`
	Status           Status    `json:"status"`
	Total            float64   `json:"total"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DelayedFilter selects non-terminal orders created before CreatedBefore.
// Empty usernames leave that dimension unfiltered.
type DelayedFilter struct {
	VendorUsername   string
	CustomerUsername string
	CreatedBefore    time.Time
}
