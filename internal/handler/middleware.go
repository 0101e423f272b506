package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"visitgate/internal/models"
	"visitgate/internal/ratelimit"
	"visitgate/internal/security"
	"visitgate/internal/util"
)

// RateLimitMiddleware applies the window limiter to routes, one named
// policy per route group.
type RateLimitMiddleware struct {
	limiter  *ratelimit.WindowLimiter
	policies map[string]ratelimit.Policy
	reporter *security.Reporter
}

func NewRateLimitMiddleware(limiter *ratelimit.WindowLimiter, policies map[string]ratelimit.Policy, reporter *security.Reporter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:  limiter,
		policies: policies,
		reporter: reporter,
	}
}

// Limit returns the middleware enforcing the named policy. An unknown
// policy name is a wiring bug, caught at router construction.
func (m *RateLimitMiddleware) Limit(policyName string) func(http.Handler) http.Handler {
	policy, ok := m.policies[policyName]
	if !ok {
		panic(fmt.Sprintf("rate limit policy not found: %s", policyName))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := policy.ResolveIdentity(r)
			if identity == ratelimit.SentinelIdentity {
				util.Warn("No resolvable identity for request, using sentinel",
					util.String("policy", policy.Name),
					util.String("path", r.URL.Path))
			}

			result := m.limiter.Allow(r.Context(), policy, identity)

			if result.Degraded {
				m.reporter.Report(security.NewEvent(
					models.EventStoreDegraded,
					models.SeverityWarning,
					"window limiter failed open: counter store unreachable",
					identity,
					r.URL.Path,
					map[string]string{"policy": policy.Name},
				))
			}

			if !result.Allowed {
				m.reporter.Report(security.NewEvent(
					models.EventRateLimitViolation,
					models.SeverityWarning,
					"rate window exceeded",
					identity,
					r.URL.Path,
					map[string]string{"policy": policy.Name},
				))
				writeTooManyRequests(w, retryMessage(result.RetryAfter), result.RetryAfter)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
