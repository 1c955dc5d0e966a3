package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/model"
	"github.com/hemosys/turn-queue/internal/repository"
)

// TurnHandler covers turn intake and the waiting-board listing.
type TurnHandler struct {
	TurnRepo *repository.TurnRepo
}

// NewTurnHandler constructs a TurnHandler.
func NewTurnHandler(turns *repository.TurnRepo) *TurnHandler {
	if turns == nil {
		panic("nil repository passed to NewTurnHandler")
	}
	return &TurnHandler{TurnRepo: turns}
}

// Create handles POST /v1/turns: registers a patient and assigns their
// turn number.  The number equals the row id and doubles as the FIFO
// position within the attention class.
func (h *TurnHandler) Create(c echo.Context) error {
	var body struct {
		PatientName    string  `json:"patient_name"`
		Age            *int    `json:"age"`
		Gender         *string `json:"gender"`
		Observations   *string `json:"observations"`
		AttentionClass string  `json:"attention_class"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.PatientName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "patient_name is required"})
	}
	switch body.AttentionClass {
	case "":
		body.AttentionClass = model.ClassGeneral
	case model.ClassGeneral, model.ClassSpecial:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "attention_class must be General or Special"})
	}

	turn := model.Turn{
		PatientName:    body.PatientName,
		Age:            body.Age,
		Gender:         body.Gender,
		Observations:   body.Observations,
		AttentionClass: body.AttentionClass,
	}
	if err := h.TurnRepo.Create(c.Request().Context(), &turn); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"assigned_turn":   turn.AssignedTurn,
		"turn":            turn,
		"attention_class": turn.AttentionClass,
	})
}

// Board handles GET /v1/turns/queue: the pending queue in serving order,
// as shown on the waiting-room display.
func (h *TurnHandler) Board(c echo.Context) error {
	turns, err := h.TurnRepo.Board(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"total": len(turns),
		"turns": turns,
	})
}
