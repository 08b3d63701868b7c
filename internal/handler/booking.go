package handler

import (
	"errors"   // for errors.Is comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/moducoop/booking/internal/booking"
	"github.com/moducoop/booking/internal/model"
	"github.com/moducoop/booking/internal/repository"
)

// BookingHandler exposes the member-facing booking lifecycle: start a
// checkout, resume it after a reload, cancel a paid booking and list
// the member's own reservations.  All routes assume JWT middleware
// has populated user_id and role in the context.
type BookingHandler struct {
	Flow     *booking.Orchestrator
	Bookings *repository.BookingRepo
	Refunds  *repository.RefundRepo
}

// NewBookingHandler constructs a BookingHandler.  All dependencies
// must be non-nil.
func NewBookingHandler(flow *booking.Orchestrator, bookings *repository.BookingRepo, refunds *repository.RefundRepo) *BookingHandler {
	if flow == nil || bookings == nil || refunds == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Flow: flow, Bookings: bookings, Refunds: refunds}
}

// Begin handles POST /v1/programs/:id/bookings.  The body carries the
// participant contact; the response carries the order id and the
// provider handoff the checkout widget needs.  A full program is
// rejected with 409 before any charge is attempted.
func (h *BookingHandler) Begin(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	programID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || programID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid program id"})
	}
	var body struct {
		ParticipantName  string `json:"participant_name"`
		ParticipantPhone string `json:"participant_phone"`
		ParticipantEmail string `json:"participant_email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	checkout, err := h.Flow.Begin(c.Request().Context(), booking.BeginRequest{
		ProgramID:        programID,
		UserID:           userID,
		ParticipantName:  body.ParticipantName,
		ParticipantPhone: body.ParticipantPhone,
		ParticipantEmail: body.ParticipantEmail,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyReserved) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "already reserved for this program"})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, checkout)
}

// Resume handles GET /v1/bookings/:order_id.  A member who reloads
// the payment page re-enters the checkout here: the existing pending
// order is rebuilt without a second slot or payment row, and terminal
// orders report the state they reached.
func (h *BookingHandler) Resume(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID := c.Param("order_id")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	checkout, err := h.Flow.Resume(c.Request().Context(), orderID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, checkout)
}

// Cancel handles DELETE /v1/bookings/:order_id.  Only the owner
// (or an admin) may cancel, only while the booking is paid and the
// program has not started.  The refund goes through the provider
// before anything is persisted.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID := c.Param("order_id")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	refund, err := h.Flow.Cancel(c.Request().Context(), orderID, userID, isAdmin(c), body.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"refund": refund})
}

// MyReservations handles GET /v1/my-reservations and returns the
// member's reservations joined with program schedule and order id.
func (h *BookingHandler) MyReservations(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	details, err := h.Bookings.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": details})
}

// RequestRefund handles POST /v1/bookings/:order_id/refund-requests.
// Members
// ask for money back on a paid booking; the request is queued pending
// an admin decision rather than refunded immediately.  The amount is
// validated against the payment minus prior non-rejected refunds.
func (h *BookingHandler) RequestRefund(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orderID := c.Param("order_id")
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var body struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	pay, err := h.Bookings.PaymentByOrderID(c.Request().Context(), orderID)
	if err != nil {
		return respondError(c, err)
	}
	if pay.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if pay.Status != model.PaymentStatusCompleted {
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment is not completed"})
	}
	refund := &model.Refund{PaymentID: pay.ID, Amount: body.Amount, Reason: body.Reason}
	if err := h.Refunds.Create(c.Request().Context(), refund); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "amount exceeds refundable balance"})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"refund": refund})
}

// reservationIDParam parses the :id path parameter shared by the
// reservation detail routes.
func reservationIDParam(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

// Reservation handles GET /v1/my-reservations/:id and returns a
// single reservation when it belongs to the caller.
func (h *BookingHandler) Reservation(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := reservationIDParam(c)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.Bookings.ReservationByID(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if res.UserID != userID && !isAdmin(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, res)
}
