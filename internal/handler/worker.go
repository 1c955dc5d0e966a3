package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/repository"
)

// WorkerHandler provisions staff accounts.  Admin-only.
type WorkerHandler struct {
	WorkerRepo *repository.WorkerRepo
	BcryptCost int
}

// NewWorkerHandler constructs a WorkerHandler.
func NewWorkerHandler(workers *repository.WorkerRepo, bcryptCost int) *WorkerHandler {
	if workers == nil {
		panic("nil repository passed to NewWorkerHandler")
	}
	return &WorkerHandler{WorkerRepo: workers, BcryptCost: bcryptCost}
}

// Create handles POST /v1/workers.
func (h *WorkerHandler) Create(c echo.Context) error {
	var body struct {
		Name     string `json:"name"`
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name == "" || body.Username == "" || body.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, username and password are required"})
	}
	switch body.Role {
	case model.RolePhlebotomist, model.RoleAdmin, model.RoleSupervisor:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown role"})
	}
	id, err := h.WorkerRepo.Create(c.Request().Context(), body.Name, body.Username, body.Password, body.Role, h.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		}
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// List handles GET /v1/workers.
func (h *WorkerHandler) List(c echo.Context) error {
	workers, err := h.WorkerRepo.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"workers": workers})
}

// SetStatus handles PATCH /v1/workers/:id/status, activating or
// deactivating an account.  Deactivated workers drop out of the
// active-worker ranking on the next read.
func (h *WorkerHandler) SetStatus(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid worker id"})
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Status != model.WorkerActive && body.Status != model.WorkerInactive {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be ACTIVE or INACTIVE"})
	}
	ok, err := h.WorkerRepo.SetStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "worker not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
