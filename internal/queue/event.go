// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Durable queues on the default exchange; routing key
// equals the queue name.
const (
	ReservationConfirmedQueue = "reservation.confirmed"
	ReservationCancelledQueue = "reservation.cancelled"
)

// ReservationConfirmedEvent is published when a booking commits.  It
// carries enough for downstream consumers to notify, log or feed
// analytics without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	ProgramID     uint64 `json:"program_id"`
	UserID        uint64 `json:"user_id"`
	Amount        int64  `json:"amount"`
	IsEarlyBird   bool   `json:"is_early_bird"`
	ConfirmedAt   string `json:"confirmed_at"`
}

// ReservationCancelledEvent is published when a committed booking is
// cancelled and refunded.
type ReservationCancelledEvent struct {
	OrderID      string `json:"order_id"`
	ProgramID    uint64 `json:"program_id"`
	UserID       uint64 `json:"user_id"`
	RefundAmount int64  `json:"refund_amount"`
	Reason       string `json:"reason"`
	CancelledAt  string `json:"cancelled_at"`
}
