package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"visitgate/internal/ratelimit"
)

// VisitHandler carries the representative endpoints of the visitor
// backend that the remaining policies gate: token-based public
// check-in, document upload, and per-user appointment listing. The
// domain logic behind them lives in external collaborators; the
// handlers here acknowledge and hand off.
type VisitHandler struct {
	logger *zap.Logger
}

func NewVisitHandler(logger *zap.Logger) *VisitHandler {
	return &VisitHandler{logger: logger}
}

type CheckInRequest struct {
	VisitorName string `json:"visitor_name"`
}

// CheckIn handles POST /api/v1/visits/check-in, a public single-use
// link action keyed by its token.
func (h *VisitHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(ratelimit.TokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "check-in token is required")
		return
	}

	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VisitorName == "" {
		writeError(w, http.StatusBadRequest, "visitor_name is required")
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]string{"token": token}, "check-in received")
}

// Upload handles POST /api/v1/uploads.
func (h *VisitHandler) Upload(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusAccepted, nil, "upload received")
}

// ListAppointments handles GET /api/v1/appointments.
func (h *VisitHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, []interface{}{}, "")
}

// Ping handles GET /api/v1/ping, general-traffic liveness for clients.
func (h *VisitHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}
