package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// Feeds stores Records in a Store, keeping individual keys in step with the
// feeds that mirror them.
type Feeds struct {
	store Store
}

func NewFeeds(store Store) *Feeds {
	return &Feeds{store: store}
}

// Append adds rec to the feed at key and refreshes the feed's TTL.
func (f *Feeds) Append(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return f.store.AppendToFeed(ctx, key, data, ttl)
}

// Read returns the feed oldest first. Entries that do not decode are
// skipped so one corrupt record cannot break the whole feed.
func (f *Feeds) Read(ctx context.Context, key string) ([]Record, error) {
	raw, err := f.store.ReadFeed(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			log.Printf("notifications: skipping malformed entry in %s: %v", key, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RemoveEntity drops every record referencing entityID from the feed.
// Entries that do not decode are left in place.
func (f *Feeds) RemoveEntity(ctx context.Context, key, entityID string, ttl time.Duration) (int, error) {
	return f.store.FilterFeed(ctx, key, func(item []byte) bool {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return true
		}
		return rec.EntityID() != entityID
	}, ttl)
}

// RemoveDelayed drops the delayed-order records for orderID from the feed,
// keeping its other records such as status changes.
func (f *Feeds) RemoveDelayed(ctx context.Context, key, orderID string, ttl time.Duration) (int, error) {
	return f.store.FilterFeed(ctx, key, func(item []byte) bool {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return true
		}
		return rec.Kind != KindOrderDelayedEscalation || rec.Payload.OrderID != orderID
	}, ttl)
}

// SetKey writes rec as the individual key at key.
func (f *Feeds) SetKey(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return f.store.SetIndividual(ctx, key, data, ttl)
}

// GetKey reads an individual key. Missing keys return ErrNotFound.
func (f *Feeds) GetKey(ctx context.Context, key string) (Record, error) {
	data, err := f.store.GetIndividual(ctx, key)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

// Materialize appends rec to the feed and writes its individual key, both
// under the same TTL policy.
func (f *Feeds) Materialize(ctx context.Context, feedKey, individualKey string, rec Record, ttl time.Duration) error {
	return errors.Join(
		f.Append(ctx, feedKey, rec, ttl),
		f.SetKey(ctx, individualKey, rec, ttl),
	)
}
