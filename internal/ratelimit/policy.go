package ratelimit

import (
	"context"
	"net"
	"net/http"
	"time"
)

// IdentityStrategy selects the key a policy counts requests against.
type IdentityStrategy string

const (
	// IdentityIP keys on the normalized client IP.
	IdentityIP IdentityStrategy = "ip"
	// IdentityUser keys on the authenticated user id, falling back to
	// the client IP for anonymous requests.
	IdentityUser IdentityStrategy = "user"
	// IdentityToken keys on a caller-supplied token (public single-use
	// links), falling back to the client IP.
	IdentityToken IdentityStrategy = "token"
)

// SentinelIdentity is counted against when no IP, user or token can be
// resolved. It keeps an unkeyed request from either blowing up the
// pipeline or feeding an unkeyed global counter.
const SentinelIdentity = "unknown"

// TokenHeader carries the public-link token for token-keyed policies.
const TokenHeader = "X-Visit-Token"

// Policy is one named rate-limit profile.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
	Strategy    IdentityStrategy
}

// Named policy profiles. The auth policy counts every attempt,
// successful ones included; the brute-force tracker layered behind it
// only counts failures but remembers them far longer.
const (
	PolicyGeneral       = "general"
	PolicyAuth          = "auth"
	PolicyPasswordReset = "password_reset"
	PolicyUpload        = "upload"
	PolicyPublicToken   = "public_token"
	PolicyUser          = "user"
)

// DefaultPolicies returns the static policy table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyGeneral:       {Name: PolicyGeneral, Window: time.Minute, MaxRequests: 100, Strategy: IdentityIP},
		PolicyAuth:          {Name: PolicyAuth, Window: 15 * time.Minute, MaxRequests: 5, Strategy: IdentityIP},
		PolicyPasswordReset: {Name: PolicyPasswordReset, Window: time.Hour, MaxRequests: 3, Strategy: IdentityIP},
		PolicyUpload:        {Name: PolicyUpload, Window: time.Hour, MaxRequests: 20, Strategy: IdentityUser},
		PolicyPublicToken:   {Name: PolicyPublicToken, Window: time.Minute, MaxRequests: 10, Strategy: IdentityToken},
		PolicyUser:          {Name: PolicyUser, Window: time.Minute, MaxRequests: 60, Strategy: IdentityUser},
	}
}

type contextKey string

const userIDKey contextKey = "visitgate.user_id"

// WithUserID stamps the authenticated user id onto the request context
// so user-keyed policies can resolve it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// ResolveIdentity derives the identity this policy counts the request
// against. Every strategy bottoms out at the sentinel identity so a
// request with nothing resolvable is still counted somewhere.
func (p Policy) ResolveIdentity(r *http.Request) string {
	switch p.Strategy {
	case IdentityUser:
		if userID := UserIDFrom(r.Context()); userID != "" {
			return userID
		}
	case IdentityToken:
		if token := r.Header.Get(TokenHeader); token != "" {
			return token
		}
		if token := r.URL.Query().Get("token"); token != "" {
			return token
		}
	}
	return ClientIP(r)
}

// ClientIP normalizes the request's remote address to a bare IP. The
// router's RealIP middleware has already folded proxy headers into
// RemoteAddr.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	if host == "" {
		return SentinelIdentity
	}
	return host
}
