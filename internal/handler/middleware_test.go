package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visitgate/internal/handler"
	"visitgate/internal/ratelimit"
	"visitgate/internal/security"
)

func newTestReporter(t *testing.T) *security.Reporter {
	t.Helper()
	reporter := security.NewReporter(64, security.NewLogSink(zap.NewNop()))
	t.Cleanup(func() { _ = reporter.Close() })
	return reporter
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	limiter := ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), false)
	policies := map[string]ratelimit.Policy{
		"tiny": {Name: "tiny", Window: time.Minute, MaxRequests: 2, Strategy: ratelimit.IdentityIP},
	}
	mw := handler.NewRateLimitMiddleware(limiter, policies, newTestReporter(t))
	h := mw.Limit("tiny")(okHandler())

	r := httptest.NewRequest("GET", "/api/v1/ping", nil)
	r.RemoteAddr = "10.1.1.1:999"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddlewareDeniesWithEnvelope(t *testing.T) {
	limiter := ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), false)
	policies := map[string]ratelimit.Policy{
		"tiny": {Name: "tiny", Window: time.Minute, MaxRequests: 1, Strategy: ratelimit.IdentityIP},
	}
	mw := handler.NewRateLimitMiddleware(limiter, policies, newTestReporter(t))
	h := mw.Limit("tiny")(okHandler())

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("GET", "/api/v1/ping", nil)
		r.RemoteAddr = "10.1.1.1:999"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if i == 0 {
			require.Equal(t, http.StatusOK, w.Code)
			continue
		}

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))

		var body handler.RateLimitResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.False(t, body.Success)
		assert.Equal(t, http.StatusTooManyRequests, body.StatusCode)
		assert.Equal(t, 60, body.RetryAfter)
		assert.NotEmpty(t, body.Message)
	}
}

func TestRateLimitMiddlewareKeysByIdentity(t *testing.T) {
	limiter := ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), false)
	policies := map[string]ratelimit.Policy{
		"tiny": {Name: "tiny", Window: time.Minute, MaxRequests: 1, Strategy: ratelimit.IdentityIP},
	}
	mw := handler.NewRateLimitMiddleware(limiter, policies, newTestReporter(t))
	h := mw.Limit("tiny")(okHandler())

	first := httptest.NewRequest("GET", "/", nil)
	first.RemoteAddr = "10.1.1.1:999"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, first)
	require.Equal(t, http.StatusOK, w.Code)

	// A different client is unaffected by the first one's counter.
	second := httptest.NewRequest("GET", "/", nil)
	second.RemoteAddr = "10.9.9.9:999"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, second)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddlewareUnknownPolicyPanics(t *testing.T) {
	limiter := ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), false)
	mw := handler.NewRateLimitMiddleware(limiter, map[string]ratelimit.Policy{}, newTestReporter(t))

	assert.Panics(t, func() {
		mw.Limit("missing")
	})
}
