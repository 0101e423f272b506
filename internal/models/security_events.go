package models

import "time"

// Security event types emitted by the abuse-prevention subsystem.
const (
	EventBruteForceBan      = "brute_force_ban"
	EventBanGateRejection   = "ban_gate_rejection"
	EventRateLimitViolation = "rate_limit_violation"
	EventStoreDegraded      = "store_degraded"
	EventLimiterBypassed    = "limiter_bypassed"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is the structured record handed to the abuse event
// reporter. Delivery is best-effort and must never block a request.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Identity  string            `json:"identity"`
	Path      string            `json:"path,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}
