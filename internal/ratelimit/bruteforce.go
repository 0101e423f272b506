package ratelimit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"visitgate/internal/config"
	"visitgate/internal/models"
	"visitgate/internal/util"
)

// BanRecord is the stored state of an active ban. It lives in the
// counter store under the ban namespace with a TTL equal to its
// duration; a read after expiry treats it as absent.
type BanRecord struct {
	Identity           string    `json:"identity"`
	BannedAt           time.Time `json:"banned_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	BanCount           int64     `json:"ban_count"`
	BanDurationMinutes int       `json:"ban_duration_minutes"`
}

// BanStatus is the ban gate's answer for one identity.
type BanStatus struct {
	Banned     bool
	RetryAfter time.Duration
	Record     *BanRecord
}

// EventReporter is the sink for security events emitted by the
// tracker. Satisfied by security.Reporter.
type EventReporter interface {
	Report(event models.SecurityEvent)
}

// BruteForceTracker counts failed authentication attempts per identity
// and escalates bans across cycles. The ban-cycle counter outlives
// successful logins, so an attacker who occasionally guesses right
// keeps their escalation level.
type BruteForceTracker struct {
	store    CounterStore
	cfg      config.BruteForceConfig
	reporter EventReporter
	now      func() time.Time
}

func NewBruteForceTracker(store CounterStore, cfg config.BruteForceConfig, reporter EventReporter) *BruteForceTracker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BanMultiplier < 1 {
		cfg.BanMultiplier = 1
	}
	if cfg.MaxBanDuration < cfg.BaseBanDuration {
		cfg.MaxBanDuration = cfg.BaseBanDuration
	}
	return &BruteForceTracker{
		store:    store,
		cfg:      cfg,
		reporter: reporter,
		now:      time.Now,
	}
}

// CheckBan reports whether the identity is currently banned. It must
// run before any credential verification. A store failure fails open:
// blocking all logins on a counter-store outage is a worse failure
// mode than briefly losing lockout enforcement.
func (t *BruteForceTracker) CheckBan(ctx context.Context, identity string) BanStatus {
	key := banKey(identity)

	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		util.Warn("Counter store unreachable, ban gate failing open",
			util.String("identity", identity),
			util.ErrorField(err))
		t.report(models.SecurityEvent{
			Type:     models.EventStoreDegraded,
			Severity: models.SeverityWarning,
			Message:  "ban check failed open: counter store unreachable",
			Identity: identity,
		})
		return BanStatus{Banned: false}
	}
	if !ok {
		return BanStatus{Banned: false}
	}

	var record BanRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		util.Warn("Discarding unreadable ban record",
			util.String("identity", identity),
			util.ErrorField(err))
		_ = t.store.Delete(ctx, key)
		return BanStatus{Banned: false}
	}

	now := t.now()
	if !now.Before(record.ExpiresAt) {
		// TTL will also reap it; lazy cleanup keeps an early read
		// from resurrecting an expired ban.
		_ = t.store.Delete(ctx, key)
		return BanStatus{Banned: false}
	}

	return BanStatus{
		Banned:     true,
		RetryAfter: record.ExpiresAt.Sub(now),
		Record:     &record,
	}
}

// RecordFailedAttempt counts one failed login for the identity and
// issues a new ban once the attempt ceiling is crossed, returning the
// ban record if one was issued. Store failures are logged and
// swallowed: losing a ban opportunity must never fail the request.
func (t *BruteForceTracker) RecordFailedAttempt(ctx context.Context, identity string) *BanRecord {
	count, err := t.store.Increment(ctx, attemptKey(identity))
	if err != nil {
		util.Warn("Failed to record login attempt, skipping",
			util.String("identity", identity),
			util.ErrorField(err))
		t.report(models.SecurityEvent{
			Type:     models.EventStoreDegraded,
			Severity: models.SeverityWarning,
			Message:  "failed attempt not recorded: counter store unreachable",
			Identity: identity,
		})
		return nil
	}

	if count == 1 {
		if err := t.store.Expire(ctx, attemptKey(identity), t.cfg.AttemptWindow); err != nil {
			util.Warn("Failed to set attempt window TTL",
				util.String("identity", identity),
				util.ErrorField(err))
		}
	}

	if count < int64(t.cfg.MaxAttempts) {
		return nil
	}

	return t.issueBan(ctx, identity)
}

// ClearFailedAttempts resets the short-lived attempt counter after a
// successful login. The ban-cycle counter is deliberately left alone.
func (t *BruteForceTracker) ClearFailedAttempts(ctx context.Context, identity string) {
	if err := t.store.Delete(ctx, attemptKey(identity)); err != nil {
		util.Warn("Failed to clear attempt counter",
			util.String("identity", identity),
			util.ErrorField(err))
	}
}

func (t *BruteForceTracker) issueBan(ctx context.Context, identity string) *BanRecord {
	cycleKey := banCycleKey(identity)

	cycles, err := t.store.Increment(ctx, cycleKey)
	if err != nil {
		// Under-penalizing beats dropping the ban entirely.
		util.Warn("Failed to increment ban cycle counter, using base duration",
			util.String("identity", identity),
			util.ErrorField(err))
		cycles = 1
	} else if err := t.store.Expire(ctx, cycleKey, t.cfg.MaxBanDuration); err != nil {
		util.Warn("Failed to refresh ban cycle TTL",
			util.String("identity", identity),
			util.ErrorField(err))
	}

	duration := t.banDuration(cycles)
	now := t.now()

	record := &BanRecord{
		Identity:           identity,
		BannedAt:           now,
		ExpiresAt:          now.Add(duration),
		BanCount:           cycles,
		BanDurationMinutes: int(duration / time.Minute),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		util.Error("Failed to encode ban record", util.ErrorField(err))
		return nil
	}

	if err := t.store.SetWithExpiry(ctx, banKey(identity), string(payload), duration); err != nil {
		util.Warn("Failed to write ban record, ban lost",
			util.String("identity", identity),
			util.ErrorField(err))
		return nil
	}

	util.Info("Issued brute-force ban",
		util.String("identity", identity),
		util.Int64("ban_count", cycles),
		util.Duration("duration", duration))

	t.report(models.SecurityEvent{
		Type:     models.EventBruteForceBan,
		Severity: models.SeverityCritical,
		Message:  "identity banned after repeated failed login attempts",
		Identity: identity,
		Details: map[string]string{
			"ban_count":        strconv.FormatInt(cycles, 10),
			"duration_minutes": strconv.Itoa(record.BanDurationMinutes),
			"expires_at":       record.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	return record
}

// banDuration escalates by multiplying the base once per prior cycle,
// capping as it goes so very large cycle counts cannot overflow.
func (t *BruteForceTracker) banDuration(cycles int64) time.Duration {
	duration := t.cfg.BaseBanDuration
	for i := int64(1); i < cycles; i++ {
		duration *= time.Duration(t.cfg.BanMultiplier)
		if duration >= t.cfg.MaxBanDuration {
			return t.cfg.MaxBanDuration
		}
	}
	if duration > t.cfg.MaxBanDuration {
		return t.cfg.MaxBanDuration
	}
	return duration
}

func (t *BruteForceTracker) report(event models.SecurityEvent) {
	if t.reporter == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}
	t.reporter.Report(event)
}
