package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"visitgate/internal/models"
)

// fakeClock drives the memory store and tracker through time in
// tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(clock *fakeClock) *MemoryStore {
	store := NewMemoryStore()
	store.now = clock.Now
	return store
}

var errStoreDown = errors.New("store unreachable")

// failingStore errors on every call, simulating a dead counter store.
type failingStore struct{}

func (failingStore) Increment(context.Context, string) (int64, error) { return 0, errStoreDown }
func (failingStore) Expire(context.Context, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errStoreDown }
func (failingStore) SetWithExpiry(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) Delete(context.Context, ...string) error { return errStoreDown }

// captureReporter records emitted security events.
type captureReporter struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *captureReporter) Report(event models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureReporter) byType(eventType string) []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SecurityEvent
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
