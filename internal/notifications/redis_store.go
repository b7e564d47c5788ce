package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	filterMaxRetries = 8
	scanBatch        = 200
)

// RedisStore implements Store on Redis lists and strings.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) AppendToFeed(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ReadFeed(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) DeleteFeed(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// FilterFeed runs the read-filter-rewrite under WATCH so that an append
// landing between the read and the rewrite aborts the transaction, which is
// then retried.
func (s *RedisStore) FilterFeed(ctx context.Context, key string, keep func([]byte) bool, ttl time.Duration) (int, error) {
	for attempt := 0; attempt < filterMaxRetries; attempt++ {
		removed := 0
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			vals, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}

			survivors := make([]interface{}, 0, len(vals))
			for _, v := range vals {
				if keep([]byte(v)) {
					survivors = append(survivors, v)
				}
			}
			removed = len(vals) - len(survivors)
			if removed == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if len(survivors) > 0 {
					pipe.RPush(ctx, key, survivors...)
					pipe.Expire(ctx, key, ttl)
				}
				return nil
			})
			return err
		}, key)

		if err == nil {
			return removed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return 0, fmt.Errorf("filter %s: %w", key, err)
		}
	}
	return 0, fmt.Errorf("filter %s: gave up after %d conflicting writes", key, filterMaxRetries)
}

func (s *RedisStore) SetIndividual(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetIndividual(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) DeleteIndividual(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
