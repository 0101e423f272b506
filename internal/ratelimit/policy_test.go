package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentityByIP(t *testing.T) {
	policy := Policy{Name: "test", Strategy: IdentityIP}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", policy.ResolveIdentity(r))

	// Bare IP without a port still resolves.
	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", policy.ResolveIdentity(r))
}

func TestResolveIdentityUserFallsBackToIP(t *testing.T) {
	policy := Policy{Name: "test", Strategy: IdentityUser}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", policy.ResolveIdentity(r))

	r = r.WithContext(WithUserID(r.Context(), "user-42"))
	assert.Equal(t, "user-42", policy.ResolveIdentity(r))
}

func TestResolveIdentityTokenFallsBackToIP(t *testing.T) {
	policy := Policy{Name: "test", Strategy: IdentityToken}

	r := httptest.NewRequest("POST", "/visits/check-in", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", policy.ResolveIdentity(r))

	r = httptest.NewRequest("POST", "/visits/check-in?token=tok-abc", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "tok-abc", policy.ResolveIdentity(r))

	r = httptest.NewRequest("POST", "/visits/check-in", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	r.Header.Set(TokenHeader, "tok-header")
	assert.Equal(t, "tok-header", policy.ResolveIdentity(r))
}

func TestResolveIdentitySentinelWhenNothingResolvable(t *testing.T) {
	policy := Policy{Name: "test", Strategy: IdentityIP}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = ""
	assert.Equal(t, SentinelIdentity, policy.ResolveIdentity(r))
}

func TestDefaultPolicyTable(t *testing.T) {
	policies := DefaultPolicies()

	auth, ok := policies[PolicyAuth]
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, auth.Window)
	assert.Equal(t, 5, auth.MaxRequests)
	assert.Equal(t, IdentityIP, auth.Strategy)

	for name, policy := range policies {
		assert.Equal(t, name, policy.Name)
		assert.Positive(t, policy.Window, "policy %s", name)
		assert.Positive(t, policy.MaxRequests, "policy %s", name)
	}
}
