package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/queue"
	"github.com/hemosys/turn-queue/internal/repository"
	"github.com/hemosys/turn-queue/internal/scheduler"
	event_publisher "github.com/hemosys/turn-queue/internal/service"
)

// AttentionHandler drives a turn through the attention lifecycle: call
// (Pending to In Progress), repeat-call, complete (to Attended) and
// defer (back to Pending at the end of its class).  Every transition is
// a guarded update; a transition that matched zero rows means the turn
// changed under the caller and is reported as a conflict, never applied
// blindly.  Lifecycle changes are published to the attention feed on a
// best-effort basis.
type AttentionHandler struct {
	TurnRepo    *repository.TurnRepo
	WorkerRepo  *repository.WorkerRepo
	CubicleRepo *repository.CubicleRepo
	Manager     *scheduler.HoldingManager
}

// NewAttentionHandler constructs an AttentionHandler.
func NewAttentionHandler(turns *repository.TurnRepo, workers *repository.WorkerRepo, cubicles *repository.CubicleRepo, manager *scheduler.HoldingManager) *AttentionHandler {
	if turns == nil || workers == nil || cubicles == nil || manager == nil {
		panic("nil dependency passed to NewAttentionHandler")
	}
	return &AttentionHandler{TurnRepo: turns, WorkerRepo: workers, CubicleRepo: cubicles, Manager: manager}
}

// publish sends a turn event to the attention feed.  Failures are logged
// by the publisher and ignored: the state change already committed and
// the display recovers on its next poll.
func (h *AttentionHandler) publish(c echo.Context, eventType string, turn *model.Turn, worker *model.Worker, cubicle *model.Cubicle) {
	ev := queue.TurnEvent{
		Type:         eventType,
		TurnID:       turn.ID,
		AssignedTurn: turn.AssignedTurn,
		PatientName:  turn.PatientName,
		CallCount:    turn.CallCount,
		At:           time.Now().UTC().Format(time.RFC3339),
	}
	if worker != nil {
		ev.WorkerID = worker.ID
		ev.WorkerName = worker.Name
	}
	if cubicle != nil {
		ev.CubicleID = cubicle.ID
		ev.CubicleName = cubicle.Name
	}
	_ = event_publisher.PublishTurnEvent(c.Request().Context(), ev)
}

// Call handles POST /v1/attention/call.  The authenticated worker calls
// the patient to a cubicle: the turn moves to In Progress, the holding
// lease is consumed and any suggestion cleared.  A turn leased to a
// different worker is refused.
func (h *AttentionHandler) Call(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TurnID    uint64 `json:"turn_id"`
		CubicleID uint64 `json:"cubicle_id"`
	}
	if err := c.Bind(&body); err != nil || body.TurnID == 0 || body.CubicleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn_id and cubicle_id are required"})
	}
	ctx := c.Request().Context()

	turn, err := h.TurnRepo.ByID(ctx, body.TurnID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if turn == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "turn not found"})
	}
	if turn.Status != model.StatusPending {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn is not pending"})
	}
	if turn.HoldingBy != nil && *turn.HoldingBy != workerID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "turn is held by another worker"})
	}
	cubicle, err := h.CubicleRepo.ByID(ctx, body.CubicleID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if cubicle == nil || !cubicle.IsActive {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "cubicle not found"})
	}

	ok, err := h.TurnRepo.Call(ctx, body.TurnID, workerID, body.CubicleID, time.Now())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		// Lost a race between the check above and the guarded update.
		return c.JSON(http.StatusConflict, echo.Map{"error": "turn changed, retry"})
	}
	updated, err := h.TurnRepo.ByID(ctx, body.TurnID)
	if err != nil || updated == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	worker, _ := h.WorkerRepo.ByID(ctx, workerID)
	h.publish(c, queue.EventCalled, updated, worker, cubicle)
	return c.JSON(http.StatusOK, echo.Map{"turn": updated})
}

// RepeatCall handles POST /v1/attention/repeat-call: re-announce an In
// Progress patient who has not shown up, bumping the call count.
func (h *AttentionHandler) RepeatCall(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TurnID uint64 `json:"turn_id"`
	}
	if err := c.Bind(&body); err != nil || body.TurnID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn_id is required"})
	}
	ctx := c.Request().Context()

	ok, err := h.TurnRepo.RepeatCall(ctx, body.TurnID, time.Now())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "turn is not in progress"})
	}
	updated, err := h.TurnRepo.ByID(ctx, body.TurnID)
	if err != nil || updated == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	worker, _ := h.WorkerRepo.ByID(ctx, workerID)
	var cubicle *model.Cubicle
	if updated.CubicleID != nil {
		cubicle, _ = h.CubicleRepo.ByID(ctx, *updated.CubicleID)
	}
	h.publish(c, queue.EventRepeatCall, updated, worker, cubicle)
	return c.JSON(http.StatusOK, echo.Map{"turn": updated})
}

// Complete handles POST /v1/attention/complete.  The turn becomes
// Attended and the worker's next lease is assigned in the same request,
// so the client transitions straight to its next patient without an
// extra round trip.
func (h *AttentionHandler) Complete(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TurnID uint64 `json:"turn_id"`
	}
	if err := c.Bind(&body); err != nil || body.TurnID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn_id is required"})
	}
	ctx := c.Request().Context()

	ok, err := h.TurnRepo.Complete(ctx, body.TurnID, time.Now())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "turn is not in progress"})
	}
	finished, err := h.TurnRepo.ByID(ctx, body.TurnID)
	if err != nil || finished == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	worker, _ := h.WorkerRepo.ByID(ctx, workerID)
	h.publish(c, queue.EventCompleted, finished, worker, nil)

	// Chain straight into the next lease for this worker.
	next, err := h.Manager.AssignNext(ctx, workerID)
	if err != nil {
		// The completion already committed; report it with no next turn.
		return c.JSON(http.StatusOK, echo.Map{"turn": finished, "next": nil})
	}
	return c.JSON(http.StatusOK, echo.Map{"turn": finished, "next": next})
}

// minCallsBeforeDefer guards against bouncing a patient who was only
// called once.
const minCallsBeforeDefer = 2

// Defer handles POST /v1/attention/defer: a no-show goes back to the
// Pending pool at the end of its attention class.
func (h *AttentionHandler) Defer(c echo.Context) error {
	workerID, err := getWorkerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TurnID uint64 `json:"turn_id"`
	}
	if err := c.Bind(&body); err != nil || body.TurnID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn_id is required"})
	}
	ctx := c.Request().Context()

	turn, err := h.TurnRepo.ByID(ctx, body.TurnID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if turn == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "turn not found"})
	}
	if turn.Status != model.StatusInProgress {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "turn must be in progress to defer"})
	}
	if turn.CallCount < minCallsBeforeDefer {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "patient must be called at least twice before deferring"})
	}

	deferredAt, err := h.TurnRepo.Defer(ctx, turn.ID, turn.AttentionClass, turn.CreatedAt, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "turn changed, retry"})
		}
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	updated, err := h.TurnRepo.ByID(ctx, turn.ID)
	if err != nil || updated == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	worker, _ := h.WorkerRepo.ByID(ctx, workerID)
	h.publish(c, queue.EventDeferred, updated, worker, nil)
	return c.JSON(http.StatusOK, echo.Map{"turn": updated, "deferred_at": deferredAt})
}
