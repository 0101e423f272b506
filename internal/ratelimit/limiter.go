package ratelimit

import (
	"context"
	"time"

	"visitgate/internal/util"
)

// Result is the outcome of one window-limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the conservative wait on denial: the full window,
	// since the store does not expose remaining TTL atomically with
	// the increment.
	RetryAfter time.Duration
	// Degraded marks a decision taken while the counter store was
	// unreachable. Such requests are allowed (fail open).
	Degraded bool
}

// WindowLimiter is a fixed-window request counter over the shared
// counter store. Fixed windows admit bursts of up to twice the nominal
// rate at window boundaries; that trade-off keeps every check to a
// single atomic increment.
type WindowLimiter struct {
	store    CounterStore
	disabled bool
}

func NewWindowLimiter(store CounterStore, disabled bool) *WindowLimiter {
	if disabled {
		util.Warn("Window limiter enforcement is DISABLED by configuration")
	}
	return &WindowLimiter{store: store, disabled: disabled}
}

// Disabled reports whether enforcement is bypassed.
func (l *WindowLimiter) Disabled() bool {
	return l.disabled
}

// Allow counts the request against (policy, identity) and decides
// whether it is within the allowed rate. Store failures never deny:
// availability wins over strict limiting when the dependency is down.
func (l *WindowLimiter) Allow(ctx context.Context, policy Policy, identity string) Result {
	if l.disabled {
		return Result{Allowed: true, Limit: policy.MaxRequests, Remaining: policy.MaxRequests}
	}

	key := windowKey(policy.Name, identity)

	count, err := l.store.Increment(ctx, key)
	if err != nil {
		util.Warn("Counter store unreachable, window limiter failing open",
			util.String("policy", policy.Name),
			util.String("identity", identity),
			util.ErrorField(err))
		return Result{Allowed: true, Limit: policy.MaxRequests, Remaining: policy.MaxRequests, Degraded: true}
	}

	// First hit opens the window.
	if count == 1 {
		if err := l.store.Expire(ctx, key, policy.Window); err != nil {
			util.Warn("Failed to set window TTL",
				util.String("policy", policy.Name),
				util.String("identity", identity),
				util.ErrorField(err))
		}
	}

	remaining := policy.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(policy.MaxRequests) {
		util.Debug("Rate window exceeded",
			util.String("policy", policy.Name),
			util.String("identity", identity),
			util.Int64("count", count),
			util.Int("limit", policy.MaxRequests))
		return Result{
			Allowed:    false,
			Limit:      policy.MaxRequests,
			Remaining:  0,
			RetryAfter: policy.Window,
		}
	}

	return Result{Allowed: true, Limit: policy.MaxRequests, Remaining: remaining}
}
