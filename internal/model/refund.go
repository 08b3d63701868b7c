package model

import "time"

// Refund statuses.  Member-initiated refund requests start PENDING
// and are resolved by an admin; refunds performed as part of a
// pre-start cancellation are created COMPLETED directly.
const (
	RefundStatusPending   = "pending"
	RefundStatusApproved  = "approved"
	RefundStatusRejected  = "rejected"
	RefundStatusCompleted = "completed"
)

// Refund records money returned against a payment.  The sum of all
// non-rejected refunds for a payment must never exceed the payment's
// original amount.
//
// Fields:
//  ID          – primary key identifier.
//  PaymentID   – payment being refunded.
//  Amount      – refund amount in KRW.
//  Reason      – free-form reason supplied by the requester.
//  Status      – pending, approved, rejected, completed.
//  ProcessedBy – admin user who resolved the request (nullable).
//  RawData     – opaque provider cancel response.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Refund struct {
	ID          uint64    `json:"id"`
	PaymentID   uint64    `json:"payment_id"`
	Amount      int64     `json:"amount"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	ProcessedBy *uint64   `json:"processed_by,omitempty"`
	RawData     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
