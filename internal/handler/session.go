package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// sessionStore is the slice of the session repository these handlers
// need.  Every mutation takes the authenticated worker id so a session
// can only ever be touched by its owner.
type sessionStore interface {
	Open(ctx context.Context, workerID uint64, expiresAt time.Time) (uint64, error)
	Touch(ctx context.Context, sessionID, workerID uint64, at time.Time) (bool, error)
	SelectCubicle(ctx context.Context, sessionID, workerID uint64, cubicleID *uint64, at time.Time) (bool, error)
}

// SessionHandler maintains the session rows the liveness tracker reads:
// opening a session at login, heartbeating it, and recording which
// cubicle the client selected.  Credential checks and token issuance
// live in the identity service; by the time these endpoints run the JWT
// middleware has already authenticated the worker.
type SessionHandler struct {
	Sessions sessionStore
	TTL      time.Duration
}

// NewSessionHandler constructs a SessionHandler with the given session
// hard expiry.
func NewSessionHandler(sessions sessionStore, ttl time.Duration) *SessionHandler {
	if sessions == nil {
		panic("nil session store passed to NewSessionHandler")
	}
	return &SessionHandler{Sessions: sessions, TTL: ttl}
}

// Open handles POST /v1/session/open.  The session's creation instant
// fixes the worker's rank in the suggestion round-robin for as long as
// the session lives.
func (h *SessionHandler) Open(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := h.Sessions.Open(c.Request().Context(), workerID, time.Now().Add(h.TTL))
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"session_id": id})
}

// Heartbeat handles POST /v1/session/heartbeat, refreshing the
// last-activity timestamp the liveness windows compare against.  The
// session must belong to the caller.
func (h *SessionHandler) Heartbeat(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SessionID uint64 `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil || body.SessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	ok, err := h.Sessions.Touch(c.Request().Context(), body.SessionID, workerID, time.Now())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found or expired"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// SelectCubicle handles POST /v1/session/cubicle.  A null cubicle_id
// releases the station.  Occupancy is derived from this field; nothing
// is written to the cubicle itself.
func (h *SessionHandler) SelectCubicle(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SessionID uint64  `json:"session_id"`
		CubicleID *uint64 `json:"cubicle_id"`
	}
	if err := c.Bind(&body); err != nil || body.SessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	ok, err := h.Sessions.SelectCubicle(c.Request().Context(), body.SessionID, workerID, body.CubicleID, time.Now())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found or expired"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
