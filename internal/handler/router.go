package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"visitgate/internal/ratelimit"
	"visitgate/internal/util"
)

// NewRouter creates and configures the Chi router. Every API route
// group carries exactly one rate-limit policy; the auth group
// additionally runs the brute-force ban gate inside its handler.
func NewRouter(authHandler *AuthHandler, visitHandler *VisitHandler, rateLimiter *RateLimitMiddleware, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ratelimit.TokenHeader},
		ExposedHeaders:   []string{"Link", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint, outside the limiter so probes never 429
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"visitgate"}`))
	})

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyAuth))
			r.Post("/auth/login", authHandler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyPasswordReset))
			r.Post("/auth/password-reset", authHandler.PasswordReset)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyPublicToken))
			r.Post("/visits/check-in", visitHandler.CheckIn)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyUpload))
			r.Post("/uploads", visitHandler.Upload)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyUser))
			r.Get("/appointments", visitHandler.ListAppointments)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Limit(ratelimit.PolicyGeneral))
			r.Get("/ping", visitHandler.Ping)
		})
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
