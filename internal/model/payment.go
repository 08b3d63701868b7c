package model

import "time"

// Payment statuses.  A payment is created PENDING before control is
// handed to the provider widget so that a crash mid-checkout leaves
// an auditable row.  COMPLETED is set only by a successful
// server-side approval.  CANCELLING claims a cancellation before the
// provider refund call goes out, so only one caller can reach the
// provider for a given charge.  FAILED and CANCELLED are terminal.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusCompleted  = "completed"
	PaymentStatusCancelling = "cancelling"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

// Payment tracks a single charge attempt against the external
// payment provider.  OrderID is the client-correlated idempotency
// key: it is generated before the provider is contacted, is globally
// unique, and every later transition (approve, cancel, reconcile) is
// keyed by it.  RawData holds the provider's response body verbatim
// for audit; it is never interpreted beyond the typed fields.
//
// Fields:
//  ID            – primary key identifier.
//  OrderID       – globally unique idempotency key.
//  ReservationID – linked reservation, nullable until committed.
//  ProgramID     – program the charge is for.
//  UserID        – user being charged.
//  Amount        – charge amount in KRW, locked at initiation.
//  Currency      – ISO currency code, normally KRW.
//  Status        – pending, completed, cancelling, failed, cancelled.
//  PaymentMethod – method reported by the provider (card, transfer).
//  Provider      – which gateway handled the charge.
//  ProviderTxID  – provider transaction id (payment key / tid).
//  RawData       – opaque provider payload.
//  SlotReleased  – whether the capacity slot held for this order has
//                  been given back; guards release idempotency.
//  ApprovedAt    – when the provider approved the charge (nullable).
//  CancelledAt   – when the charge was cancelled (nullable).
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Payment struct {
	ID            uint64     `json:"id"`
	OrderID       string     `json:"order_id"`
	ReservationID *uint64    `json:"reservation_id,omitempty"`
	ProgramID     uint64     `json:"program_id"`
	UserID        uint64     `json:"user_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	Provider      string     `json:"provider"`
	ProviderTxID  string     `json:"provider_tx_id"`
	RawData       []byte     `json:"-"`
	SlotReleased  bool       `json:"-"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
