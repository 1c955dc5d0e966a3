package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/repository"
)

// CubicleHandler provisions sample-collection stations.  Admin-only.
type CubicleHandler struct {
	CubicleRepo *repository.CubicleRepo
}

// NewCubicleHandler constructs a CubicleHandler.
func NewCubicleHandler(cubicles *repository.CubicleRepo) *CubicleHandler {
	if cubicles == nil {
		panic("nil repository passed to NewCubicleHandler")
	}
	return &CubicleHandler{CubicleRepo: cubicles}
}

// Create handles POST /v1/cubicles.
func (h *CubicleHandler) Create(c echo.Context) error {
	var body struct {
		Name      string `json:"name"`
		IsSpecial bool   `json:"is_special"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	id, err := h.CubicleRepo.Create(c.Request().Context(), body.Name, body.IsSpecial)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// List handles GET /v1/cubicles: the active stations, without the
// occupancy overlay of /v1/cubicles/status.
func (h *CubicleHandler) List(c echo.Context) error {
	cubicles, err := h.CubicleRepo.ListActive(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"cubicles": cubicles})
}
