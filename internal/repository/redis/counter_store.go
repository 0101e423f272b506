// Package redis adapts the shared Redis instance to the counter store
// port. This is the implementation multi-process deployments rely on:
// INCR is the atomic primitive the whole subsystem leans on.
package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"visitgate/internal/client"
	"visitgate/internal/util"
)

// opTimeout bounds every store call so a slow Redis can never hang the
// request pipeline; callers treat a timeout like any other store
// failure and fail open.
const opTimeout = 5 * time.Second

type CounterStore struct {
	client *client.RedisClient
}

func NewCounterStore(client *client.RedisClient) *CounterStore {
	return &CounterStore{client: client}
}

func (s *CounterStore) Increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key)
	if err != nil {
		util.Error("Failed to increment counter",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl); err != nil {
		util.Error("Failed to set key TTL",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set key TTL: %w", err)
	}
	return nil
}

func (s *CounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	value, ok, err := s.client.Get(ctx, key)
	if err != nil {
		util.Error("Failed to read key",
			zap.String("key", key),
			zap.Error(err))
		return "", false, fmt.Errorf("failed to read key: %w", err)
	}
	return value, ok, nil
}

func (s *CounterStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl); err != nil {
		util.Error("Failed to write key",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func (s *CounterStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete keys",
			zap.Int("key_count", len(keys)),
			zap.Error(err))
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}
