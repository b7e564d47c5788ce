package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

// OrderLister is the slice of the order store the pipeline reads.
type OrderLister interface {
	ListDelayed(ctx context.Context, f orders.DelayedFilter) ([]orders.Order, error)
}

// FeedView is what a recipient sees when listing notifications.
type FeedView struct {
	Notifications []Record `json:"notifications"`
	UnreadCount   int      `json:"unreadCount"`
}

// Service serves reads and clears over the notification store, scoped by
// audience.
type Service struct {
	store     Store
	feeds     *Feeds
	acks      *Acks
	orders    OrderLister
	threshold time.Duration
	now       func() time.Time
}

func NewService(store Store, orderLister OrderLister, delayThreshold time.Duration) *Service {
	return &Service{
		store:     store,
		feeds:     NewFeeds(store),
		acks:      NewAcks(store),
		orders:    orderLister,
		threshold: delayThreshold,
		now:       time.Now,
	}
}

// GetFeed returns the audience's notifications. Admin feeds are merged and
// sorted newest first; other feeds keep insertion order and hide delayed
// orders the recipient acknowledged.
func (s *Service) GetFeed(ctx context.Context, aud Audience) (FeedView, error) {
	var all []Record
	for _, key := range aud.FeedKeys() {
		recs, err := s.feeds.Read(ctx, key)
		if err != nil {
			return FeedView{}, fmt.Errorf("read feed %s: %w", key, err)
		}
		all = append(all, recs...)
	}

	if aud.IsAdmin() {
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Timestamp.After(all[j].Timestamp)
		})
	} else {
		visible := all[:0]
		for _, rec := range all {
			if rec.NotifType == NotifOrderDelayed {
				acked, err := s.acks.Acknowledged(ctx, aud, rec.Payload.OrderID)
				if err != nil {
					return FeedView{}, fmt.Errorf("check acknowledgement: %w", err)
				}
				if acked {
					continue
				}
			}
			visible = append(visible, rec)
		}
		all = visible
	}

	if all == nil {
		all = []Record{}
	}
	return FeedView{Notifications: all, UnreadCount: len(all)}, nil
}

// ClearOne removes the notifications for one entity. Admin clears are
// global: the entity's keys and feed entries go away for every admin.
// Vendors and customers only drop their own copies and acknowledge the
// order, leaving the admin escalation in place.
func (s *Service) ClearOne(ctx context.Context, aud Audience, entityID string) (int, error) {
	if entityID == "" {
		return 0, errors.New("entity id is required")
	}

	if aud.IsAdmin() {
		keyErr := s.store.DeleteIndividual(ctx, vendorRegistrationKey(entityID), delayedOrderKey(entityID))
		if keyErr != nil {
			return 0, keyErr
		}
		removedReg, err := s.feeds.RemoveEntity(ctx, adminVendorRegistrationsFeed, entityID, VendorRegistrationTTL)
		if err != nil {
			return 0, err
		}
		removedDelayed, err := s.feeds.RemoveEntity(ctx, adminDelayedOrdersFeed, entityID, DelayedOrderTTL)
		if err != nil {
			return removedReg, err
		}
		return removedReg + removedDelayed, nil
	}

	keys := []string{aud.orderKey(entityID)}
	if aud.role == roleCustomer {
		keys = append(keys, orderStatusKey(aud.identity, entityID))
	}
	if err := s.store.DeleteIndividual(ctx, keys...); err != nil {
		return 0, err
	}
	removed, err := s.feeds.RemoveEntity(ctx, aud.feedKey(), entityID, RecipientFeedTTL)
	if err != nil {
		return 0, err
	}
	if err := s.acks.Acknowledge(ctx, aud, entityID); err != nil {
		return removed, fmt.Errorf("acknowledge order %s: %w", entityID, err)
	}
	return removed, nil
}

// ClearAll deletes every notification of the audience. Vendors and
// customers also acknowledge the orders currently listed as delayed.
func (s *Service) ClearAll(ctx context.Context, aud Audience) error {
	if !aud.IsAdmin() {
		delayed, err := s.DelayedOrders(ctx, aud)
		if err != nil {
			return err
		}
		for _, o := range delayed {
			if err := s.acks.Acknowledge(ctx, aud, o.ID); err != nil {
				return fmt.Errorf("acknowledge order %s: %w", o.ID, err)
			}
		}
	}

	for _, key := range aud.FeedKeys() {
		if err := s.store.DeleteFeed(ctx, key); err != nil {
			return err
		}
	}

	for _, pattern := range aud.keyPatterns() {
		keys, err := s.store.KeysByPattern(ctx, pattern)
		if err != nil {
			return err
		}
		if err := s.store.DeleteIndividual(ctx, keys...); err != nil {
			return err
		}
		if len(keys) > 0 {
			log.Printf("notifications: cleared %d keys matching %s", len(keys), pattern)
		}
	}
	return nil
}

// DelayedOrders re-queries the order store for the audience's non-terminal
// orders older than the delay threshold. Vendors and customers do not see
// orders they acknowledged.
func (s *Service) DelayedOrders(ctx context.Context, aud Audience) ([]orders.Order, error) {
	filter := orders.DelayedFilter{CreatedBefore: s.now().Add(-s.threshold)}
	switch aud.role {
	case roleVendor:
		filter.VendorUsername = aud.identity
	case roleCustomer:
		filter.CustomerUsername = aud.identity
	}

	list, err := s.orders.ListDelayed(ctx, filter)
	if err != nil {
		return nil, err
	}
	if aud.IsAdmin() {
		return list, nil
	}

	visible := make([]orders.Order, 0, len(list))
	for _, o := range list {
		acked, err := s.acks.Acknowledged(ctx, aud, o.ID)
		if err != nil {
			return nil, fmt.Errorf("check acknowledgement: %w", err)
		}
		if !acked {
			visible = append(visible, o)
		}
	}
	return visible, nil
}
