// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking orchestrator and handlers to distinguish between different
// failure scenarios. For example, ErrProgramFull indicates that the
// atomic slot reservation found no remaining capacity, while
// ErrConflict signals that an operation cannot proceed due to
// existing dependent records (e.g. deleting a program with active
// reservations).
package repository

import "errors"

// ErrProgramNotFound is returned when a program lookup or slot
// operation references a program id that does not exist.
var ErrProgramNotFound = errors.New("program not found")

// ErrProgramNotOpen is returned when a slot reservation is attempted
// against a program whose status is not open (cancelled, completed).
var ErrProgramNotOpen = errors.New("program not open for booking")

// ErrProgramFull is returned by the capacity guard when the
// conditional increment finds no remaining slot. Handlers should
// translate this into an HTTP 409 response.
var ErrProgramFull = errors.New("program full")

// ErrReservationNotFound is returned when a reservation lookup
// matches no row.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrPaymentNotFound is returned when no payment row exists for the
// given order id.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrRefundNotFound is returned when a refund request lookup matches
// no row.
var ErrRefundNotFound = errors.New("refund not found")

// ErrAlreadyReserved is returned when the user already holds a
// non-cancelled reservation for the program. Handlers should
// translate this into an HTTP 409 response.
var ErrAlreadyReserved = errors.New("reservation already exists")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be
// performed because of conflicting state, such as attempting to
// delete a program that still has reservations. Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
