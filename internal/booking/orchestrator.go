// Package booking coordinates the payment reservation lifecycle:
// price lock, capacity reservation, provider payment, server-side
// approval, persistence and the notification trigger.  The state
// machine is persisted in the reservation and payment rows keyed by
// order id, so a page reload or a crash mid-payment resumes from
// the stored state instead of losing the booking.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moducoop/booking/internal/model"
	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/pricing"
	"github.com/moducoop/booking/internal/queue"
	"github.com/moducoop/booking/internal/repository"
)

// State names the position of a booking in its lifecycle.  States
// after Draft are derived from the persisted payment and reservation
// rows; they are reported to callers, never stored separately.
type State string

const (
	StateDraft            State = "draft"
	StatePriceLocked      State = "price_locked"
	StateSlotReserved     State = "slot_reserved"
	StatePaymentInitiated State = "payment_initiated"
	StatePaymentApproved  State = "payment_approved"
	StateCommitted        State = "committed"
	StateRolledBack       State = "rolled_back"
	StateCancelled        State = "cancelled"
)

// ErrInvalidInput is returned for malformed booking requests
// (missing participant contact, zero ids).  Recoverable by the user
// correcting the form.
var ErrInvalidInput = errors.New("invalid booking input")

// ErrProgramStarted is returned when a booking or cancellation is
// attempted after the program's start date.
var ErrProgramStarted = errors.New("program already started")

// CatalogStore reads program records.
type CatalogStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Program, error)
}

// CapacityGuard atomically claims and releases participant slots.
// ReserveSlot must be a single conditional check-and-increment at the
// backing store; the orchestrator never reads a count and writes it
// back.
type CapacityGuard interface {
	ReserveSlot(ctx context.Context, programID uint64) error
	ReleaseSlot(ctx context.Context, programID uint64) error
}

// Store owns the reservation and payment rows.  The transition
// methods are transactional: each moves both rows (and the held
// slot, exactly once) or neither.
type Store interface {
	CreatePending(ctx context.Context, res *model.Reservation, pay *model.Payment) error
	PaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error)
	ReservationByID(ctx context.Context, id uint64) (*model.Reservation, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Payment, error)
	CommitApproval(ctx context.Context, orderID, providerTxID, method string, raw []byte, approvedAt time.Time) (*model.Reservation, error)
	RollbackBooking(ctx context.Context, orderID, paymentStatus string, raw []byte) error
	ClaimCancellation(ctx context.Context, orderID string) error
	ReopenCancellation(ctx context.Context, orderID string) error
	CancelCommitted(ctx context.Context, orderID string, refund *model.Refund, raw []byte) error
	RefundedTotal(ctx context.Context, paymentID uint64) (int64, error)
}

// Dispatcher publishes reservation events.  Fire-and-forget: the
// orchestrator logs publish failures and never rolls back a committed
// booking because of one.
type Dispatcher interface {
	ReservationConfirmed(ctx context.Context, ev queue.ReservationConfirmedEvent) error
	ReservationCancelled(ctx context.Context, ev queue.ReservationCancelledEvent) error
}

// Config carries the orchestrator's fixed parameters.
type Config struct {
	Provider   string
	Currency   string
	SuccessURL string
	FailURL    string
}

// Orchestrator is the only component allowed to transition a
// reservation across states.
type Orchestrator struct {
	catalog    CatalogStore
	guard      CapacityGuard
	store      Store
	gateway    payment.Gateway
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
}

// New constructs an Orchestrator.  All dependencies must be non-nil
// except dispatcher, which may be nil when no broker is configured.
func New(catalog CatalogStore, guard CapacityGuard, store Store, gateway payment.Gateway, dispatcher Dispatcher, cfg Config) *Orchestrator {
	if catalog == nil || guard == nil || store == nil || gateway == nil {
		panic("nil dependency passed to booking.New")
	}
	if cfg.Currency == "" {
		cfg.Currency = "KRW"
	}
	return &Orchestrator{
		catalog:    catalog,
		guard:      guard,
		store:      store,
		gateway:    gateway,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BeginRequest is a user's booking intent for a program.
type BeginRequest struct {
	ProgramID        uint64
	UserID           uint64
	ParticipantName  string
	ParticipantPhone string
	ParticipantEmail string
}

// Checkout is what the caller needs to drive (or resume) the payment
// widget, plus the derived lifecycle state.
type Checkout struct {
	OrderID     string                 `json:"order_id"`
	State       State                  `json:"state"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	IsEarlyBird bool                   `json:"is_early_bird"`
	Handoff     *payment.ClientHandoff `json:"handoff,omitempty"`
}

// NewOrderID generates the globally unique idempotency key for a
// payment attempt.  It is created before the provider is contacted so
// that every provider interaction is correlated.
func NewOrderID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), hex.EncodeToString(b)), nil
}

// Begin runs Draft -> PriceLocked -> SlotReserved -> PaymentInitiated.
// The quote is locked first, then the slot is claimed atomically; a
// full program is reported before any payment row exists.  The
// pending payment row is persisted before the handoff is returned, so
// a crash after this point is recoverable by order id.
func (o *Orchestrator) Begin(ctx context.Context, req BeginRequest) (*Checkout, error) {
	if req.ProgramID == 0 || req.UserID == 0 || req.ParticipantName == "" || req.ParticipantPhone == "" {
		return nil, ErrInvalidInput
	}
	program, err := o.catalog.GetByID(ctx, req.ProgramID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	if program.Started(now) {
		return nil, ErrProgramStarted
	}
	quote := pricing.ForProgram(program, now)

	if err := o.guard.ReserveSlot(ctx, req.ProgramID); err != nil {
		return nil, err
	}
	orderID, err := NewOrderID()
	if err != nil {
		o.releaseDirect(ctx, req.ProgramID)
		return nil, err
	}
	res := &model.Reservation{
		ProgramID:        req.ProgramID,
		UserID:           req.UserID,
		ParticipantName:  req.ParticipantName,
		ParticipantPhone: req.ParticipantPhone,
		ParticipantEmail: req.ParticipantEmail,
		AmountPaid:       quote.Amount,
		IsEarlyBird:      quote.IsEarlyBird,
	}
	pay := &model.Payment{
		OrderID:   orderID,
		ProgramID: req.ProgramID,
		UserID:    req.UserID,
		Amount:    quote.Amount,
		Currency:  o.cfg.Currency,
		Provider:  o.cfg.Provider,
	}
	if err := o.store.CreatePending(ctx, res, pay); err != nil {
		// No payment row exists yet, so the order-scoped release guard
		// cannot apply; give the slot back directly.
		o.releaseDirect(ctx, req.ProgramID)
		return nil, err
	}
	handoff, err := o.gateway.Initiate(ctx, payment.InitiateRequest{
		OrderID:    orderID,
		Amount:     quote.Amount,
		Currency:   o.cfg.Currency,
		OrderName:  program.Title,
		CustomerID: req.UserID,
		SuccessURL: o.cfg.SuccessURL,
		FailURL:    o.cfg.FailURL,
	})
	if err != nil {
		if rbErr := o.store.RollbackBooking(ctx, orderID, model.PaymentStatusFailed, nil); rbErr != nil {
			logrus.WithError(rbErr).WithField("order_id", orderID).Error("rollback after initiate failure")
		}
		return nil, err
	}
	return &Checkout{
		OrderID:     orderID,
		State:       StatePaymentInitiated,
		Amount:      quote.Amount,
		Currency:    o.cfg.Currency,
		IsEarlyBird: quote.IsEarlyBird,
		Handoff:     handoff,
	}, nil
}

// Resume re-enters a booking at PaymentInitiated, e.g. after the user
// reloads the payment page.  It finds the existing pending payment
// and rebuilds the handoff from it – no second payment row, no second
// slot.  For terminal payments it reports the reached state instead.
// Providers key checkout registration by order id, so repeating
// Initiate for the same order is safe.
func (o *Orchestrator) Resume(ctx context.Context, orderID string, userID uint64) (*Checkout, error) {
	pay, err := o.store.PaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if pay.UserID != userID {
		return nil, repository.ErrForbidden
	}
	out := &Checkout{
		OrderID:  pay.OrderID,
		Amount:   pay.Amount,
		Currency: pay.Currency,
	}
	switch pay.Status {
	case model.PaymentStatusCompleted:
		out.State = StateCommitted
		return out, nil
	case model.PaymentStatusFailed:
		out.State = StateRolledBack
		return out, nil
	case model.PaymentStatusCancelling, model.PaymentStatusCancelled:
		// A refund in flight reads as cancelled; it either settles or
		// the claim is reopened and the booking shows committed again.
		out.State = StateCancelled
		return out, nil
	}
	program, err := o.catalog.GetByID(ctx, pay.ProgramID)
	if err != nil {
		return nil, err
	}
	// Quote at the original initiation instant: the early-bird window
	// closing mid-checkout keeps the captured price, but an admin price
	// edit must stop the flow for re-confirmation.
	if err := pricing.Verify(program, pay.CreatedAt, pay.Amount); err != nil {
		if rbErr := o.store.RollbackBooking(ctx, orderID, model.PaymentStatusFailed, nil); rbErr != nil {
			logrus.WithError(rbErr).WithField("order_id", orderID).Error("rollback after price change")
		}
		return nil, err
	}
	handoff, err := o.gateway.Initiate(ctx, payment.InitiateRequest{
		OrderID:    pay.OrderID,
		Amount:     pay.Amount,
		Currency:   pay.Currency,
		OrderName:  program.Title,
		CustomerID: pay.UserID,
		SuccessURL: o.cfg.SuccessURL,
		FailURL:    o.cfg.FailURL,
	})
	if err != nil {
		return nil, err
	}
	out.State = StatePaymentInitiated
	out.Handoff = handoff
	return out, nil
}

// Approve runs PaymentInitiated -> PaymentApproved -> Committed.  The
// provider callback is untrusted: the charge counts only when the
// server-side approval succeeds with the locked amount.  Approving an
// already-committed order returns the existing reservation without a
// second provider call.  A provider timeout leaves the payment
// pending for the reconciliation sweep; mismatch and decline roll the
// booking back before the error is returned.
func (o *Orchestrator) Approve(ctx context.Context, orderID, providerTxID string) (*model.Reservation, error) {
	pay, err := o.store.PaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch pay.Status {
	case model.PaymentStatusCompleted:
		if pay.ReservationID == nil {
			return nil, repository.ErrReservationNotFound
		}
		return o.store.ReservationByID(ctx, *pay.ReservationID)
	case model.PaymentStatusCancelling, model.PaymentStatusFailed, model.PaymentStatusCancelled:
		return nil, repository.ErrConflict
	}
	approved, err := o.gateway.Approve(ctx, providerTxID, orderID, pay.Amount)
	if err != nil {
		if errors.Is(err, payment.ErrProviderTimeout) {
			return nil, err
		}
		if errors.Is(err, payment.ErrAmountMismatch) {
			logrus.WithFields(logrus.Fields{
				"order_id": orderID,
				"user_id":  pay.UserID,
			}).Warn("approval amount mismatch, possible tampering")
		}
		var raw []byte
		var pe *payment.ProviderError
		if errors.As(err, &pe) {
			raw = []byte(pe.Message)
		}
		if rbErr := o.store.RollbackBooking(ctx, orderID, model.PaymentStatusFailed, raw); rbErr != nil {
			logrus.WithError(rbErr).WithField("order_id", orderID).Error("rollback after approval failure")
			return nil, rbErr
		}
		return nil, err
	}
	res, err := o.store.CommitApproval(ctx, orderID, approved.ProviderTxID, approved.Method, approved.RawData, approved.ApprovedAt)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			cur, perr := o.store.PaymentByOrderID(ctx, orderID)
			switch {
			case perr == nil && cur.Status == model.PaymentStatusCompleted && cur.ReservationID != nil:
				// A concurrent approval won the conditional update; the
				// booking is committed, return its reservation.
				return o.store.ReservationByID(ctx, *cur.ReservationID)
			case perr == nil && cur.Status == model.PaymentStatusFailed:
				// The reconciliation sweep (or another rollback) finalised
				// the order while this approval was in flight.  The charge
				// went through, so refund it before reporting the conflict.
				logrus.WithFields(logrus.Fields{
					"order_id": orderID,
					"user_id":  pay.UserID,
				}).Error("approval raced a rollback, refunding the charge")
				if _, cErr := o.gateway.Cancel(ctx, approved.ProviderTxID, pay.Amount, "order closed before approval settled"); cErr != nil {
					logrus.WithError(cErr).WithField("order_id", orderID).Error("compensating refund failed, needs manual settlement")
				}
			}
		}
		return nil, err
	}
	o.publishConfirmed(ctx, pay, res)
	return res, nil
}

// Cancel runs Committed -> Cancelled.  The cancellation is claimed
// with a conditional status transition before the provider is asked
// to refund, so two concurrent cancellations of the same order make
// exactly one money call; then payment, reservation, the refund
// record and the slot release land in one transaction.  Only the
// booking owner (or an admin) may cancel, and only before the
// program starts.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string, actorID uint64, isAdmin bool, reason string) (*model.Refund, error) {
	pay, err := o.store.PaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && pay.UserID != actorID {
		return nil, repository.ErrForbidden
	}
	if pay.Status != model.PaymentStatusCompleted {
		return nil, repository.ErrConflict
	}
	program, err := o.catalog.GetByID(ctx, pay.ProgramID)
	if err != nil {
		return nil, err
	}
	if program.Started(o.now()) {
		return nil, ErrProgramStarted
	}
	refunded, err := o.store.RefundedTotal(ctx, pay.ID)
	if err != nil {
		return nil, err
	}
	amount := pay.Amount - refunded
	if amount <= 0 {
		return nil, repository.ErrConflict
	}
	if err := o.store.ClaimCancellation(ctx, orderID); err != nil {
		return nil, err
	}
	cancelled, err := o.gateway.Cancel(ctx, pay.ProviderTxID, amount, reason)
	if err != nil {
		if reErr := o.store.ReopenCancellation(ctx, orderID); reErr != nil {
			logrus.WithError(reErr).WithField("order_id", orderID).Error("reopen after refund failure")
		}
		return nil, err
	}
	refund := &model.Refund{Amount: amount, Reason: reason, RawData: cancelled.RawData}
	if isAdmin {
		refund.ProcessedBy = &actorID
	}
	if err := o.store.CancelCommitted(ctx, orderID, refund, cancelled.RawData); err != nil {
		return nil, err
	}
	o.publishCancelled(ctx, pay, refund)
	return refund, nil
}

// Reconcile sweeps payments still pending past the initiation
// timeout: the widget was abandoned or the approval redirect was
// lost.  Each order is settled by the provider's authoritative
// status – approved orders are committed late, everything else is
// rolled back and its slot released.  Returns the number of orders
// settled.
func (o *Orchestrator) Reconcile(ctx context.Context, pendingTimeout time.Duration) (int, error) {
	cutoff := o.now().Add(-pendingTimeout)
	stale, err := o.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, pay := range stale {
		select {
		case <-ctx.Done():
			return settled, ctx.Err()
		default:
		}
		st, err := o.gateway.Status(ctx, pay.OrderID)
		if err != nil {
			logrus.WithError(err).WithField("order_id", pay.OrderID).Warn("reconcile: provider status lookup failed")
			continue
		}
		if st.Approved && st.Amount == pay.Amount {
			res, err := o.store.CommitApproval(ctx, pay.OrderID, st.ProviderTxID, "", st.RawData, o.now())
			if err != nil {
				logrus.WithError(err).WithField("order_id", pay.OrderID).Error("reconcile: late commit failed")
				continue
			}
			o.publishConfirmed(ctx, &pay, res)
			settled++
			continue
		}
		if err := o.store.RollbackBooking(ctx, pay.OrderID, model.PaymentStatusFailed, st.RawData); err != nil {
			logrus.WithError(err).WithField("order_id", pay.OrderID).Error("reconcile: rollback failed")
			continue
		}
		settled++
	}
	return settled, nil
}

// releaseDirect gives a slot back outside of any payment-row guard.
// Used only on the Begin path before a payment row exists.
func (o *Orchestrator) releaseDirect(ctx context.Context, programID uint64) {
	if err := o.guard.ReleaseSlot(ctx, programID); err != nil {
		logrus.WithError(err).WithField("program_id", programID).Error("slot release failed")
	}
}

func (o *Orchestrator) publishConfirmed(ctx context.Context, pay *model.Payment, res *model.Reservation) {
	if o.dispatcher == nil {
		return
	}
	ev := queue.ReservationConfirmedEvent{
		ReservationID: res.ID,
		OrderID:       pay.OrderID,
		ProgramID:     pay.ProgramID,
		UserID:        pay.UserID,
		Amount:        pay.Amount,
		IsEarlyBird:   res.IsEarlyBird,
		ConfirmedAt:   o.now().Format(time.RFC3339),
	}
	if err := o.dispatcher.ReservationConfirmed(ctx, ev); err != nil {
		logrus.WithError(err).WithField("order_id", pay.OrderID).Warn("confirmation event publish failed")
	}
}

func (o *Orchestrator) publishCancelled(ctx context.Context, pay *model.Payment, refund *model.Refund) {
	if o.dispatcher == nil {
		return
	}
	ev := queue.ReservationCancelledEvent{
		OrderID:      pay.OrderID,
		ProgramID:    pay.ProgramID,
		UserID:       pay.UserID,
		RefundAmount: refund.Amount,
		Reason:       refund.Reason,
		CancelledAt:  o.now().Format(time.RFC3339),
	}
	if err := o.dispatcher.ReservationCancelled(ctx, ev); err != nil {
		logrus.WithError(err).WithField("order_id", pay.OrderID).Warn("cancellation event publish failed")
	}
}
