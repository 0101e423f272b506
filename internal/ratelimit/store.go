// Package ratelimit implements the layered abuse-prevention subsystem:
// a fixed-window request limiter, a progressive brute-force tracker,
// and the counter store port both are built on.
package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared-state port every limiter component talks
// to. Implementations must make Increment atomic under concurrent
// callers and must bound every call with a timeout. Absence of a key
// is not an error; store failures are errors and callers degrade to
// fail-open behavior on them.
type CounterStore interface {
	// Increment atomically increments the integer at key, creating it
	// at 1 if absent, and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets or refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Get returns the value at key and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetWithExpiry stores value at key with the given TTL.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, keys ...string) error
}
