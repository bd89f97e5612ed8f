package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/ports"
)

// maxTxRetries bounds the optimistic-lock retry loop in Update.
const maxTxRetries = 5

// RedisStore is a Redis implementation of the KeyedStore interface.
// Per-key atomicity for Update is provided by WATCH-based optimistic
// transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "wallethub:",
	}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("%w: get %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return value, nil
}

// Set stores a value under key with an optional TTL
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", core.ErrStoreOperationFailed, key, err)
	}
	return nil
}

// Scan returns all entries whose key starts with prefix
func (s *RedisStore) Scan(ctx context.Context, prefix string) (map[string]string, error) {
	result := make(map[string]string)
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		value, err := s.client.Get(ctx, fullKey).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SCAN and GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", core.ErrStoreOperationFailed, prefix, err)
		}
		result[fullKey[len(s.prefix):]] = value
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", core.ErrStoreOperationFailed, prefix, err)
	}
	return result, nil
}

// Update applies fn to the current value of key inside a WATCH transaction,
// retrying on write conflicts.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(current string, exists bool) (string, error)) error {
	fullKey := s.prefix + key

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Result()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txn, fullKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: update %s: %v", core.ErrStoreOperationFailed, key, err)
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ports.KeyedStore = (*RedisStore)(nil)
