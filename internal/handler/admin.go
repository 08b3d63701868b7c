package handler

import (
	"errors"   // for errors.Is comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters
	"time"     // program schedule fields

	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/sirupsen/logrus"  // structured logging

	"github.com/moducoop/booking/internal/model"
	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/repository"
)

// AdminHandler groups the management surface: program CRUD, per
// program reservation listings and the refund request queue.  Routes
// using it must be guarded by the ADMIN role middleware.
type AdminHandler struct {
	Programs *repository.ProgramRepo
	Bookings *repository.BookingRepo
	Refunds  *repository.RefundRepo
	Gateway  payment.Gateway
}

// NewAdminHandler constructs an AdminHandler.  All dependencies must
// be non-nil.
func NewAdminHandler(programs *repository.ProgramRepo, bookings *repository.BookingRepo, refunds *repository.RefundRepo, gw payment.Gateway) *AdminHandler {
	if programs == nil || bookings == nil || refunds == nil || gw == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Programs: programs, Bookings: bookings, Refunds: refunds, Gateway: gw}
}

// programBody is the JSON shape shared by create and update.
type programBody struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	BasePrice         int64      `json:"base_price"`
	EarlyBirdPrice    *int64     `json:"early_bird_price"`
	EarlyBirdDeadline *time.Time `json:"early_bird_deadline"`
	MaxParticipants   uint32     `json:"max_participants"`
	StartDate         time.Time  `json:"start_date"`
	EndDate           time.Time  `json:"end_date"`
}

func (b *programBody) validate() string {
	switch {
	case b.Title == "":
		return "title is required"
	case b.BasePrice <= 0:
		return "base_price must be positive"
	case b.EarlyBirdPrice != nil && (*b.EarlyBirdPrice <= 0 || *b.EarlyBirdPrice >= b.BasePrice):
		return "early_bird_price must be positive and below base_price"
	case (b.EarlyBirdPrice == nil) != (b.EarlyBirdDeadline == nil):
		return "early_bird_price and early_bird_deadline must be set together"
	case b.MaxParticipants == 0:
		return "max_participants must be positive"
	case b.StartDate.IsZero() || b.EndDate.IsZero() || b.EndDate.Before(b.StartDate):
		return "start_date and end_date must form a valid range"
	}
	return ""
}

// CreateProgram handles POST /v1/admin/programs.
func (h *AdminHandler) CreateProgram(c echo.Context) error {
	var body programBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := body.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	p := &model.Program{
		Title:             body.Title,
		Description:       body.Description,
		Category:          body.Category,
		BasePrice:         body.BasePrice,
		EarlyBirdPrice:    body.EarlyBirdPrice,
		EarlyBirdDeadline: body.EarlyBirdDeadline,
		MaxParticipants:   body.MaxParticipants,
		Status:            model.ProgramStatusOpen,
		StartDate:         body.StartDate,
		EndDate:           body.EndDate,
	}
	if err := h.Programs.Create(c.Request().Context(), p); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, p)
}

// UpdateProgram handles PUT /v1/admin/programs/:id.  Capacity cannot
// drop below the current participant count; price edits take effect
// for new quotes only, in-flight checkouts are stopped by the resume
// verification.
func (h *AdminHandler) UpdateProgram(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	var body programBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := body.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	p, err := h.Programs.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProgramNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "program not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if body.MaxParticipants < p.CurrentParticipants {
		return c.JSON(http.StatusConflict, echo.Map{"error": "capacity below current participants"})
	}
	p.Title = body.Title
	p.Description = body.Description
	p.Category = body.Category
	p.BasePrice = body.BasePrice
	p.EarlyBirdPrice = body.EarlyBirdPrice
	p.EarlyBirdDeadline = body.EarlyBirdDeadline
	p.MaxParticipants = body.MaxParticipants
	p.StartDate = body.StartDate
	p.EndDate = body.EndDate
	if err := h.Programs.Update(c.Request().Context(), p); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, p)
}

// UpdateProgramStatus handles PATCH /v1/admin/programs/:id/status.
func (h *AdminHandler) UpdateProgramStatus(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	switch body.Status {
	case model.ProgramStatusOpen, model.ProgramStatusCancelled, model.ProgramStatusCompleted:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	if err := h.Programs.UpdateStatus(c.Request().Context(), id, body.Status); err != nil {
		if errors.Is(err, repository.ErrProgramNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "program not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteProgram handles DELETE /v1/admin/programs/:id.  Programs with
// live reservations cannot be deleted.
func (h *AdminHandler) DeleteProgram(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	if err := h.Programs.Delete(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrProgramNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "program not found"})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "program has active reservations"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ProgramReservations handles GET /v1/admin/programs/:id/reservations
// and returns the attendee list for a program.
func (h *AdminHandler) ProgramReservations(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	list, err := h.Bookings.ListByProgram(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": list})
}

// ListRefunds handles GET /v1/admin/refunds?status=pending and
// returns the refund request queue, oldest first.
func (h *AdminHandler) ListRefunds(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", model.RefundStatusPending, model.RefundStatusApproved,
		model.RefundStatusRejected, model.RefundStatusCompleted:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	list, err := h.Refunds.ListByStatus(c.Request().Context(), status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"refunds": list})
}

// ApproveRefund handles POST /v1/admin/refunds/:id/approve.  The
// provider cancel runs first; only when the money is actually on its
// way back does the request move to completed.  A lost race against
// another admin returns 409.
func (h *AdminHandler) ApproveRefund(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refund id"})
	}
	ctx := c.Request().Context()
	refund, err := h.Refunds.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRefundNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "refund not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if refund.Status != model.RefundStatusPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "refund already resolved"})
	}
	pay, err := h.Refunds.PaymentForRefund(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	cancelled, err := h.Gateway.Cancel(ctx, pay.ProviderTxID, refund.Amount, refund.Reason)
	if err != nil {
		logrus.WithError(err).WithField("refund_id", id).Error("provider cancel failed")
		return respondError(c, err)
	}
	if err := h.Refunds.Resolve(ctx, id, model.RefundStatusCompleted, adminID, cancelled.RawData); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another admin resolved it between our read and the update;
			// the provider cancel already went through, so surface loudly.
			logrus.WithField("refund_id", id).Error("refund resolved concurrently after provider cancel")
			return c.JSON(http.StatusConflict, echo.Map{"error": "refund already resolved"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// RejectRefund handles POST /v1/admin/refunds/:id/reject.
func (h *AdminHandler) RejectRefund(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refund id"})
	}
	if err := h.Refunds.Resolve(c.Request().Context(), id, model.RefundStatusRejected, adminID, nil); err != nil {
		switch {
		case errors.Is(err, repository.ErrRefundNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "refund not found"})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "refund already resolved"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.NoContent(http.StatusNoContent)
}
