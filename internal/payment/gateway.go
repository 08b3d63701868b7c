// Package payment wraps the external payment providers behind a
// single provider-agnostic Gateway interface.  Two integrations
// exist: a card-widget provider whose client-side widget collects the
// payment method and hands back a payment key, and a server-approval
// provider driven entirely by transaction ids.  Both are confirmed
// exclusively by server-side approval calls – a widget callback that
// reports success is a hint, never proof of payment.
package payment

import (
	"context"
	"time"
)

// Providers selectable through configuration.
const (
	ProviderWidgetPay  = "widgetpay"
	ProviderApprovePay = "approvepay"
)

// InitiateRequest carries everything the provider needs to open a
// checkout for an order.  SuccessURL and FailURL are where the
// provider redirects the customer after the widget closes.
type InitiateRequest struct {
	OrderID    string
	Amount     int64
	Currency   string
	OrderName  string
	CustomerID uint64
	SuccessURL string
	FailURL    string
}

// ClientHandoff is the opaque data the front end needs to render the
// provider's widget.  The service treats it as pass-through.
type ClientHandoff struct {
	Provider   string            `json:"provider"`
	OrderID    string            `json:"order_id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	ClientKey  string            `json:"client_key"`
	CheckoutID string            `json:"checkout_id,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ApprovedPayment is the provider-authoritative record of an approved
// charge.  Amount is the amount the provider actually charged, which
// the adapter has already verified against the expected amount.
type ApprovedPayment struct {
	ProviderTxID string
	OrderID      string
	Amount       int64
	Method       string
	ApprovedAt   time.Time
	RawData      []byte
}

// CancelledPayment is the provider's record of a (possibly partial)
// cancellation.
type CancelledPayment struct {
	ProviderTxID string
	Amount       int64
	CancelledAt  time.Time
	RawData      []byte
}

// StatusResult reports the provider-side state of an order during
// reconciliation.  Approved is authoritative; when false the charge
// never completed at the provider and the booking can be rolled back.
type StatusResult struct {
	Approved     bool
	ProviderTxID string
	Amount       int64
	RawData      []byte
}

// Gateway is the provider-agnostic contract the booking orchestrator
// depends on.  Either provider implementation backs it without the
// orchestrator changing.
type Gateway interface {
	// Initiate registers the order with the provider (when the provider
	// requires it) and returns the handoff the client widget needs.
	Initiate(ctx context.Context, req InitiateRequest) (*ClientHandoff, error)
	// Approve confirms the charge server-side.  It must verify that the
	// provider-reported amount equals expectedAmount before treating
	// the payment as valid, returning ErrAmountMismatch otherwise.
	Approve(ctx context.Context, providerTxID, orderID string, expectedAmount int64) (*ApprovedPayment, error)
	// Cancel refunds the given amount of an approved charge.
	Cancel(ctx context.Context, providerTxID string, amount int64, reason string) (*CancelledPayment, error)
	// Status looks up the provider-side state of an order.
	Status(ctx context.Context, orderID string) (*StatusResult, error)
}
