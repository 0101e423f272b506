package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitgate/internal/config"
	"visitgate/internal/models"
)

func defaultBruteForceConfig() config.BruteForceConfig {
	return config.BruteForceConfig{
		MaxAttempts:     5,
		AttemptWindow:   15 * time.Minute,
		BaseBanDuration: 15 * time.Minute,
		BanMultiplier:   2,
		MaxBanDuration:  24 * time.Hour,
	}
}

func newTestTracker(t *testing.T, store CounterStore, clock *fakeClock, reporter EventReporter) *BruteForceTracker {
	t.Helper()
	tracker := NewBruteForceTracker(store, defaultBruteForceConfig(), reporter)
	if clock != nil {
		tracker.now = clock.Now
	}
	return tracker
}

// failUntilBanned drives the tracker through enough failed attempts to
// trigger a ban and returns the issued record.
func failUntilBanned(t *testing.T, tracker *BruteForceTracker, identity string) *BanRecord {
	t.Helper()
	ctx := context.Background()
	for i := 1; i < tracker.cfg.MaxAttempts; i++ {
		require.Nil(t, tracker.RecordFailedAttempt(ctx, identity), "attempt %d should not ban yet", i)
	}
	record := tracker.RecordFailedAttempt(ctx, identity)
	require.NotNil(t, record, "final attempt should issue a ban")
	return record
}

func TestTrackerBansAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	record := failUntilBanned(t, tracker, "198.51.100.4")
	assert.Equal(t, int64(1), record.BanCount)
	assert.Equal(t, 15, record.BanDurationMinutes)

	status := tracker.CheckBan(ctx, "198.51.100.4")
	require.True(t, status.Banned)
	assert.InDelta(t, (15 * time.Minute).Seconds(), status.RetryAfter.Seconds(), 1)
}

func TestTrackerProgressiveEscalation(t *testing.T) {
	// Three ban cycles must run exactly 15, 30 and 60 minutes.
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	expected := []int{15, 30, 60}
	for cycle, minutes := range expected {
		record := failUntilBanned(t, tracker, "198.51.100.4")
		assert.Equal(t, int64(cycle+1), record.BanCount)
		assert.Equal(t, minutes, record.BanDurationMinutes)

		// Wait out the ban before the next cycle.
		clock.Advance(time.Duration(minutes)*time.Minute + time.Second)
		assert.False(t, tracker.CheckBan(ctx, "198.51.100.4").Banned)
	}
}

func TestTrackerBanDurationIsCapped(t *testing.T) {
	tracker := NewBruteForceTracker(NewMemoryStore(), defaultBruteForceConfig(), nil)

	previous := time.Duration(0)
	for cycles := int64(1); cycles <= 60; cycles++ {
		duration := tracker.banDuration(cycles)
		assert.GreaterOrEqual(t, duration, previous, "cycle %d must not shrink", cycles)
		assert.LessOrEqual(t, duration, 24*time.Hour)
		previous = duration
	}
	// Deep cycle counts must not overflow the duration arithmetic.
	assert.Equal(t, 24*time.Hour, tracker.banDuration(1_000_000))
}

func TestTrackerClearKeepsBanCycleMemory(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	first := failUntilBanned(t, tracker, "198.51.100.4")
	require.Equal(t, int64(1), first.BanCount)
	clock.Advance(16 * time.Minute)

	// A successful login between cycles clears only the attempt
	// counter.
	tracker.ClearFailedAttempts(ctx, "198.51.100.4")

	second := failUntilBanned(t, tracker, "198.51.100.4")
	assert.Equal(t, int64(2), second.BanCount)
	assert.Equal(t, 30, second.BanDurationMinutes)
}

func TestTrackerClearResetsAttemptProgress(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.Nil(t, tracker.RecordFailedAttempt(ctx, "198.51.100.4"))
	}
	tracker.ClearFailedAttempts(ctx, "198.51.100.4")

	// The counter starts over: four more failures still do not ban.
	for i := 0; i < 4; i++ {
		assert.Nil(t, tracker.RecordFailedAttempt(ctx, "198.51.100.4"))
	}
}

func TestTrackerExpiredBanReadsAsAbsent(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	// A record whose store TTL has not fired yet but whose expiry time
	// has passed must read as not banned and get cleaned up.
	stale := BanRecord{
		Identity:           "198.51.100.4",
		BannedAt:           clock.Now().Add(-20 * time.Minute),
		ExpiresAt:          clock.Now().Add(-5 * time.Minute),
		BanCount:           1,
		BanDurationMinutes: 15,
	}
	payload, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, store.SetWithExpiry(ctx, banKey("198.51.100.4"), string(payload), time.Hour))

	assert.False(t, tracker.CheckBan(ctx, "198.51.100.4").Banned)

	_, ok, err := store.Get(ctx, banKey("198.51.100.4"))
	require.NoError(t, err)
	assert.False(t, ok, "stale record should be lazily deleted")
}

func TestTrackerFailsOpenWhenStoreDown(t *testing.T) {
	reporter := &captureReporter{}
	tracker := NewBruteForceTracker(failingStore{}, defaultBruteForceConfig(), reporter)
	ctx := context.Background()

	status := tracker.CheckBan(ctx, "198.51.100.4")
	assert.False(t, status.Banned)

	assert.Nil(t, tracker.RecordFailedAttempt(ctx, "198.51.100.4"))
	tracker.ClearFailedAttempts(ctx, "198.51.100.4")

	assert.NotEmpty(t, reporter.byType(models.EventStoreDegraded))
}

func TestTrackerEmitsBanEvent(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	reporter := &captureReporter{}
	tracker := newTestTracker(t, store, clock, reporter)

	failUntilBanned(t, tracker, "198.51.100.4")

	events := reporter.byType(models.EventBruteForceBan)
	require.Len(t, events, 1)
	assert.Equal(t, "198.51.100.4", events[0].Identity)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Equal(t, "1", events[0].Details["ban_count"])
	assert.NotEmpty(t, events[0].ID)
}

func TestTrackerDiscardsCorruptBanRecord(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	tracker := newTestTracker(t, store, clock, nil)
	ctx := context.Background()

	require.NoError(t, store.SetWithExpiry(ctx, banKey("198.51.100.4"), "not json", time.Hour))
	assert.False(t, tracker.CheckBan(ctx, "198.51.100.4").Banned)
}
