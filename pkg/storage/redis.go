package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    TTLConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl TTLConfig) *RedisStore {
	if prefix == "" {
		prefix = "cn"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// Get loads a value.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return data, nil
}

// Set stores a value with the tier TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, durability domain.Durability) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl.For(durability)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// SetTTL stores a value with an explicit TTL.
func (s *RedisStore) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Acquire performs SET NX.
func (s *RedisStore) Acquire(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return ok, nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}
