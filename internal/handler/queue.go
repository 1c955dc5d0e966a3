package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/repository"
	"github.com/hemosys/turn-queue/internal/scheduler"
)

// QueueHandler exposes the scheduler to phlebotomist clients: holding
// acquisition and transfer, suggestion refresh, and the derived
// liveness/occupancy views.  The reaper runs before every liveness or
// occupancy read so dead sessions never pin a lease or a cubicle.
type QueueHandler struct {
	Manager     *scheduler.HoldingManager
	Broadcaster *scheduler.Broadcaster
	Tracker     *scheduler.Tracker
	Reaper      *scheduler.Reaper
	CubicleRepo *repository.CubicleRepo
}

// NewQueueHandler constructs a QueueHandler.  All dependencies must be
// non-nil.
func NewQueueHandler(m *scheduler.HoldingManager, b *scheduler.Broadcaster, t *scheduler.Tracker, r *scheduler.Reaper, cubicles *repository.CubicleRepo) *QueueHandler {
	if m == nil || b == nil || t == nil || r == nil || cubicles == nil {
		panic("nil dependency passed to NewQueueHandler")
	}
	return &QueueHandler{Manager: m, Broadcaster: b, Tracker: t, Reaper: r, CubicleRepo: cubicles}
}

// schedulerError maps scheduler sentinel errors to HTTP responses.
// Anything else is a store failure and surfaces as 503 so polling
// clients retry.
func schedulerError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrInvalidWorker):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, scheduler.ErrTurnNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
}

// RequestHolding handles POST /v1/queue/holding.  It leases the next
// available turn to the authenticated worker, or returns the turn the
// worker already holds.  turn is null when no work is available, which
// clients treat as "nothing yet".
func (h *QueueHandler) RequestHolding(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	turn, err := h.Manager.AssignNext(c.Request().Context(), workerID)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"turn": turn})
}

// CurrentHolding handles GET /v1/queue/holding.  Read-only lookup of the
// worker's held turn.
func (h *QueueHandler) CurrentHolding(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	turn, err := h.Manager.Current(c.Request().Context(), workerID)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"turn": turn})
}

// SkipHolding handles POST /v1/queue/holding/skip.  The body carries the
// turn being skipped and every turn already rejected in this round, so
// the scheduler never re-presents them until the cycle completes.
func (h *QueueHandler) SkipHolding(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		CurrentTurnID  uint64   `json:"current_turn_id"`
		SkippedTurnIDs []uint64 `json:"skipped_turn_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.Manager.Skip(c.Request().Context(), workerID, body.CurrentTurnID, body.SkippedTurnIDs)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ReleaseHoldings handles POST /v1/queue/holding/release, called on
// logout and when the client navigates away.  Safe when nothing is held.
func (h *QueueHandler) ReleaseHoldings(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	released, err := h.Manager.ReleaseAll(c.Request().Context(), workerID)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// RefreshSuggestions handles POST /v1/queue/suggestions/refresh.  One
// broadcaster round: expire stale suggestions and pair pending turns
// with active workers positionally.
func (h *QueueHandler) RefreshSuggestions(c echo.Context) error {
	res, err := h.Broadcaster.Refresh(c.Request().Context())
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// WorkerRanking handles GET /v1/queue/workers: the active phlebotomists
// ordered by login time.  A reaper pass runs first so the ranking never
// includes claims of dead sessions.
func (h *QueueHandler) WorkerRanking(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.Reaper.Reap(ctx); err != nil {
		return schedulerError(c, err)
	}
	ranked, err := h.Tracker.ActiveWorkers(ctx)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"total":   len(ranked),
		"workers": ranked,
	})
}

// cubicleStatus is one row of the occupancy snapshot.
type cubicleStatus struct {
	model.Cubicle
	IsOccupied bool          `json:"is_occupied"`
	OccupiedBy *model.Worker `json:"occupied_by"`
}

// CubicleStatus handles GET /v1/cubicles/status: every active cubicle
// with its derived occupant, after a reaper pass.
func (h *QueueHandler) CubicleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.Reaper.Reap(ctx); err != nil {
		return schedulerError(c, err)
	}
	cubicles, err := h.CubicleRepo.ListActive(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	occupancy, err := h.Tracker.CubicleOccupancy(ctx)
	if err != nil {
		return schedulerError(c, err)
	}
	out := make([]cubicleStatus, 0, len(cubicles))
	for _, cub := range cubicles {
		st := cubicleStatus{Cubicle: cub}
		if w, ok := occupancy[cub.ID]; ok {
			st.IsOccupied = true
			occupant := w
			st.OccupiedBy = &occupant
		}
		out = append(out, st)
	}
	return c.JSON(http.StatusOK, echo.Map{"cubicles": out})
}
