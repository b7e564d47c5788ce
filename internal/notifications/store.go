package notifications

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetIndividual for a missing or expired key.
var ErrNotFound = errors.New("notification key not found")

// Store is the key-value service behind feeds and individual keys. All
// methods must be safe for concurrent use by several processes.
type Store interface {
	// AppendToFeed pushes value to the tail of the list at key and resets the
	// key's expiry to ttl.
	AppendToFeed(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// ReadFeed returns the whole list, oldest first.
	ReadFeed(ctx context.Context, key string) ([][]byte, error)
	DeleteFeed(ctx context.Context, key string) error
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) error
	// FilterFeed removes every entry for which keep returns false and
	// returns how many were removed. Survivors keep their order and the key
	// gets a fresh ttl. Concurrent appends are not lost.
	FilterFeed(ctx context.Context, key string, keep func([]byte) bool, ttl time.Duration) (int, error)

	SetIndividual(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetIndividual(ctx context.Context, key string) ([]byte, error)
	DeleteIndividual(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// KeysByPattern lists keys matching a glob pattern. It walks the whole
	// keyspace and is meant for maintenance sweeps only.
	KeysByPattern(ctx context.Context, pattern string) ([]string, error)
}
