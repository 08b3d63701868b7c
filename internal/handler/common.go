package handler // shared helpers used by all HTTP handlers

import (
	"errors"  // errors.New for context extraction failures
	"net/http" // HTTP status codes
	"strconv" // parsing identifiers from strings

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/moducoop/booking/internal/booking"
)

// Role values carried in the JWT "role" claim.  Admins manage
// programs and resolve refunds; members book and cancel their own
// reservations.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// getUserID extracts the authenticated user's ID from the echo
// context.  JWT claims decode numbers as float64, so several types
// are accepted.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// isAdmin reports whether the authenticated request carries the admin
// role.
func isAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == RoleAdmin
}

// respondError translates a lifecycle error into an HTTP response.
// Classification happens centrally so every handler maps the same
// failure to the same status code.
func respondError(c echo.Context, err error) error {
	switch booking.Classify(err) {
	case booking.KindValidation:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case booking.KindCapacity:
		return c.JSON(http.StatusConflict, echo.Map{"error": "program is full or not open"})
	case booking.KindPayment:
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": err.Error(), "retryable": booking.Retryable(err)})
	case booking.KindNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case booking.KindForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case booking.KindConflict:
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
