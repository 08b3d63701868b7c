package model

import "time"

// Reservation statuses.  REGISTERED marks a booking whose payment is
// still in flight; CONFIRMED is reached only after the provider
// approved the charge server-side.  CANCELLED and COMPLETED are
// terminal.
const (
	ReservationStatusRegistered = "registered"
	ReservationStatusConfirmed  = "confirmed"
	ReservationStatusCancelled  = "cancelled"
	ReservationStatusCompleted  = "completed"
	ReservationStatusNoShow     = "no_show"
)

// Payment statuses carried on the reservation row.  These mirror the
// linked payment record so that dashboard queries do not need a join.
const (
	ReservationPaymentPending  = "pending"
	ReservationPaymentPaid     = "paid"
	ReservationPaymentFailed   = "failed"
	ReservationPaymentRefunded = "refunded"
)

// Reservation records a user's participation in a program.  At most
// one non-cancelled reservation per (program, user) pair may exist.
// AmountPaid captures the pricing engine's quote at booking time and
// is never recomputed afterwards; the payment approval step compares
// the provider-reported amount against this captured value.
//
// Fields:
//  ID               – primary key identifier.
//  ProgramID        – program being booked.
//  UserID           – user who made the booking.
//  ParticipantName  – contact name of the attendee.
//  ParticipantPhone – contact phone of the attendee.
//  ParticipantEmail – contact email of the attendee.
//  AmountPaid       – quoted charge in KRW, captured at creation.
//  IsEarlyBird      – whether the early-bird price applied.
//  Status           – registered, confirmed, cancelled, completed,
//                     no_show.
//  PaymentStatus    – pending, paid, failed, refunded.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Reservation struct {
	ID               uint64    `json:"id"`
	ProgramID        uint64    `json:"program_id"`
	UserID           uint64    `json:"user_id"`
	ParticipantName  string    `json:"participant_name"`
	ParticipantPhone string    `json:"participant_phone"`
	ParticipantEmail string    `json:"participant_email"`
	AmountPaid       int64     `json:"amount_paid"`
	IsEarlyBird      bool      `json:"is_early_bird"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
