package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"visitgate/internal/auth"
	"visitgate/internal/models"
	"visitgate/internal/ratelimit"
	"visitgate/internal/security"
	"visitgate/internal/util"
)

// AuthHandler owns the authentication endpoints. The brute-force ban
// gate runs before any credential verification; verification outcomes
// feed back into the tracker.
type AuthHandler struct {
	verifier auth.Verifier
	tracker  *ratelimit.BruteForceTracker
	reporter *security.Reporter
	logger   *zap.Logger
}

func NewAuthHandler(verifier auth.Verifier, tracker *ratelimit.BruteForceTracker, reporter *security.Reporter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		tracker:  tracker,
		reporter: reporter,
		logger:   logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ctx := r.Context()
	identity := ratelimit.ClientIP(r)

	// Ban gate first: a banned identity never reaches verification.
	status := h.tracker.CheckBan(ctx, identity)
	if status.Banned {
		h.reporter.Report(security.NewEvent(
			models.EventBanGateRejection,
			models.SeverityWarning,
			"login rejected for banned identity",
			identity,
			r.URL.Path,
			map[string]string{"ban_count": fmt.Sprintf("%d", status.Record.BanCount)},
		))
		writeTooManyRequests(w,
			fmt.Sprintf("Account access temporarily locked due to repeated failed logins. Try again in %d seconds.",
				int(status.RetryAfter.Seconds())+1),
			status.RetryAfter)
		return
	}

	ok, err := h.verifier.Verify(ctx, req.Username, req.Password)
	if err != nil {
		h.logger.Error("Credential verification failed",
			util.String("username", req.Username),
			util.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "unable to verify credentials")
		return
	}

	if !ok {
		if ban := h.tracker.RecordFailedAttempt(ctx, identity); ban != nil {
			writeTooManyRequests(w,
				fmt.Sprintf("Too many failed login attempts. Locked for %d minutes.", ban.BanDurationMinutes),
				ban.ExpiresAt.Sub(ban.BannedAt))
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.tracker.ClearFailedAttempts(ctx, identity)

	writeSuccess(w, http.StatusOK, LoginResponse{
		Username:  req.Username,
		SessionID: uuid.NewString(),
	}, "login successful")
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordReset handles POST /api/v1/auth/password-reset. Actual reset
// delivery belongs to the email dispatcher; this endpoint exists so
// the reset policy has traffic to gate. The response is identical
// whether or not the address is known.
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	writeSuccess(w, http.StatusAccepted, nil, "if the address exists, a reset link has been sent")
}
