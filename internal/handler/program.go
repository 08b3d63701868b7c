package handler

import (
	"errors"   // for errors.Is comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path and query parameters
	"time"     // quoting at the current instant

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/moducoop/booking/internal/model"
	"github.com/moducoop/booking/internal/pricing"
	"github.com/moducoop/booking/internal/repository"
)

// ProgramHandler serves the public program catalogue.  These routes
// require no authentication so prospective members can browse before
// signing in; responses are cache-friendly.
type ProgramHandler struct {
	Programs *repository.ProgramRepo
}

// NewProgramHandler constructs a ProgramHandler.
func NewProgramHandler(programs *repository.ProgramRepo) *ProgramHandler {
	if programs == nil {
		panic("nil repository passed to NewProgramHandler")
	}
	return &ProgramHandler{Programs: programs}
}

// programView decorates a program with the price a booking made right
// now would be quoted.  The stored counters are included so the
// client can show remaining capacity.
type programView struct {
	model.Program
	CurrentPrice int64 `json:"current_price"`
	IsEarlyBird  bool  `json:"is_early_bird"`
}

func viewOf(p model.Program, at time.Time) programView {
	quote := pricing.ForProgram(&p, at)
	return programView{Program: p, CurrentPrice: quote.Amount, IsEarlyBird: quote.IsEarlyBird}
}

// List handles GET /v1/programs.  Optional query parameters: status,
// category, limit, offset.  Limit defaults to 20 and is capped at
// 100.
func (h *ProgramHandler) List(c echo.Context) error {
	status := c.QueryParam("status")
	category := c.QueryParam("category")
	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	offset := 0
	if s := c.QueryParam("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}
	programs, err := h.Programs.List(c.Request().Context(), status, category, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	now := time.Now().UTC()
	views := make([]programView, 0, len(programs))
	for _, p := range programs {
		views = append(views, viewOf(p, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"programs": views})
}

// Get handles GET /v1/programs/:id and returns the program together
// with the price a booking made now would lock.
func (h *ProgramHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	p, err := h.Programs.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProgramNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "program not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, viewOf(*p, time.Now().UTC()))
}
