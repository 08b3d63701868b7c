package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moducoop/booking/internal/model"
)

// BookingRepo owns the reservation and payment row lifecycles.  Rows
// are keyed per booking by the order id, so they are never contended
// across bookings; the multi-row transitions (commit, rollback,
// cancel) each run in a single transaction so a crash can never leave
// a paid charge without a reservation or a held slot without a
// terminal payment record.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CreatePending inserts the registered reservation and its pending
// payment in one transaction, before control is handed to the
// provider widget.  It enforces at most one non-cancelled reservation
// per (program, user) and returns ErrAlreadyReserved otherwise.
func (r *BookingRepo) CreatePending(ctx context.Context, res *model.Reservation, pay *model.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var count int
	const dup = `SELECT COUNT(*) FROM reservations WHERE program_id = ? AND user_id = ? AND status <> ?`
	if err := tx.QueryRowContext(ctx, dup, res.ProgramID, res.UserID, model.ReservationStatusCancelled).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyReserved
	}
	const insRes = `INSERT INTO reservations
        (program_id, user_id, participant_name, participant_phone, participant_email,
         amount_paid, is_early_bird, status, payment_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, insRes,
		res.ProgramID, res.UserID, res.ParticipantName, res.ParticipantPhone, res.ParticipantEmail,
		res.AmountPaid, res.IsEarlyBird, model.ReservationStatusRegistered, model.ReservationPaymentPending,
	)
	if err != nil {
		return err
	}
	resID, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(resID)
	res.Status = model.ReservationStatusRegistered
	res.PaymentStatus = model.ReservationPaymentPending

	// The payment row stays unlinked (reservation_id NULL) until the
	// commit transition; linkage is the orchestrator's signal that the
	// approval happened.
	const insPay = `INSERT INTO payments
        (order_id, program_id, user_id, amount, currency, status, provider, slot_released)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0)`
	result, err = tx.ExecContext(ctx, insPay,
		pay.OrderID, pay.ProgramID, pay.UserID, pay.Amount, pay.Currency,
		model.PaymentStatusPending, pay.Provider,
	)
	if err != nil {
		return err
	}
	payID, err := result.LastInsertId()
	if err != nil {
		return err
	}
	pay.ID = uint64(payID)
	pay.Status = model.PaymentStatusPending

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

const paymentColumns = `id, order_id, reservation_id, program_id, user_id, amount, currency,
    status, payment_method, provider, provider_tx_id, raw_data, slot_released,
    approved_at, cancelled_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*model.Payment, error) {
	var p model.Payment
	var resID sql.NullInt64
	var method, txID sql.NullString
	var raw []byte
	var approvedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.OrderID, &resID, &p.ProgramID, &p.UserID, &p.Amount, &p.Currency,
		&p.Status, &method, &p.Provider, &txID, &raw, &p.SlotReleased,
		&approvedAt, &cancelledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resID.Valid {
		id := uint64(resID.Int64)
		p.ReservationID = &id
	}
	if method.Valid {
		p.PaymentMethod = method.String
	}
	if txID.Valid {
		p.ProviderTxID = txID.String
	}
	p.RawData = raw
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		p.ApprovedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		p.CancelledAt = &t
	}
	return &p, nil
}

// PaymentByOrderID returns the payment row for the given order id, or
// ErrPaymentNotFound when none exists.
func (r *BookingRepo) PaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ?`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

const reservationColumns = `id, program_id, user_id, participant_name, participant_phone,
    participant_email, amount_paid, is_early_bird, status, payment_status,
    created_at, updated_at`

func scanReservation(row interface{ Scan(...interface{}) error }) (*model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(
		&res.ID, &res.ProgramID, &res.UserID, &res.ParticipantName, &res.ParticipantPhone,
		&res.ParticipantEmail, &res.AmountPaid, &res.IsEarlyBird, &res.Status, &res.PaymentStatus,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ReservationByID returns a single reservation, or
// ErrReservationNotFound when the id matches no row.
func (r *BookingRepo) ReservationByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return res, nil
}

// ReservationDetail is a reservation joined with its program and
// payment, as shown on the member dashboard.
type ReservationDetail struct {
	model.Reservation
	ProgramTitle string    `json:"program_title"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	OrderID      *string   `json:"order_id,omitempty"`
}

// ListByUser returns all reservations for the given user, newest
// first, along with the program title/schedule and the linked order
// id when a payment has been committed.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]ReservationDetail, error) {
	const q = `SELECT r.id, r.program_id, r.user_id, r.participant_name, r.participant_phone,
                      r.participant_email, r.amount_paid, r.is_early_bird, r.status, r.payment_status,
                      r.created_at, r.updated_at,
                      p.title, p.start_date, p.end_date,
                      pay.order_id
               FROM reservations r
               JOIN programs p ON p.id = r.program_id
               LEFT JOIN payments pay ON pay.reservation_id = r.id
               WHERE r.user_id = ?
               ORDER BY r.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]ReservationDetail, 0)
	for rows.Next() {
		var d ReservationDetail
		var orderID sql.NullString
		if err := rows.Scan(
			&d.ID, &d.ProgramID, &d.UserID, &d.ParticipantName, &d.ParticipantPhone,
			&d.ParticipantEmail, &d.AmountPaid, &d.IsEarlyBird, &d.Status, &d.PaymentStatus,
			&d.CreatedAt, &d.UpdatedAt,
			&d.ProgramTitle, &d.StartDate, &d.EndDate,
			&orderID,
		); err != nil {
			return nil, err
		}
		if orderID.Valid {
			oid := orderID.String
			d.OrderID = &oid
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// ListByProgram returns all reservations for a program, newest first.
// Used by the admin console.
func (r *BookingRepo) ListByProgram(ctx context.Context, programID uint64) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE program_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPendingBefore returns payments still pending whose checkout was
// initiated before the cutoff.  The reconciliation worker sweeps
// these to close abandoned widgets.
func (r *BookingRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
               WHERE status = ? AND created_at < ?`
	rows, err := r.db.QueryContext(ctx, q, model.PaymentStatusPending, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RefundedTotal returns the sum of all non-rejected refund amounts
// recorded against a payment.  Cancellation uses it to bound the
// provider refund to what has not already been returned.
func (r *BookingRepo) RefundedTotal(ctx context.Context, paymentID uint64) (int64, error) {
	var total int64
	const q = `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = ? AND status <> ?`
	if err := r.db.QueryRowContext(ctx, q, paymentID, model.RefundStatusRejected).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CommitApproval finalises a booking whose charge the provider has
// approved: the payment row becomes completed with the provider
// transaction details, the reservation becomes confirmed/paid, and
// the two are linked.  The payment transition is conditional on the
// row still being pending, so a concurrent duplicate approval finds
// zero affected rows and reports ErrConflict rather than committing
// twice.
func (r *BookingRepo) CommitApproval(ctx context.Context, orderID, providerTxID, method string, raw []byte, approvedAt time.Time) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const upPay = `UPDATE payments
        SET status = ?, provider_tx_id = ?, payment_method = ?, raw_data = ?, approved_at = ?
        WHERE order_id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, upPay,
		model.PaymentStatusCompleted, providerTxID, method, raw,
		approvedAt.UTC().Format("2006-01-02 15:04:05"),
		orderID, model.PaymentStatusPending,
	)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrConflict
	}
	var programID, userID uint64
	if err := tx.QueryRowContext(ctx, `SELECT program_id, user_id FROM payments WHERE order_id = ?`, orderID).Scan(&programID, &userID); err != nil {
		return nil, err
	}
	const selRes = `SELECT ` + reservationColumns + ` FROM reservations
        WHERE program_id = ? AND user_id = ? AND status = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, selRes, programID, userID, model.ReservationStatusRegistered))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	const upRes = `UPDATE reservations SET status = ?, payment_status = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, upRes, model.ReservationStatusConfirmed, model.ReservationPaymentPaid, res.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE payments SET reservation_id = ? WHERE order_id = ?`, res.ID, orderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	res.Status = model.ReservationStatusConfirmed
	res.PaymentStatus = model.ReservationPaymentPaid
	return res, nil
}

// RollbackBooking compensates a booking that never completed: the
// payment row is finalised to the given terminal status (failed or
// cancelled), the registered reservation is cancelled, and the
// capacity slot is released exactly once.  It is idempotent – a
// second call on an already-finalised order only attempts the
// guarded slot release, which is a no-op.
func (r *BookingRepo) RollbackBooking(ctx context.Context, orderID, paymentStatus string, raw []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const upPay = `UPDATE payments SET status = ?, raw_data = ?, cancelled_at = UTC_TIMESTAMP()
        WHERE order_id = ? AND status = ?`
	if _, err := tx.ExecContext(ctx, upPay, paymentStatus, raw, orderID, model.PaymentStatusPending); err != nil {
		return err
	}
	var programID, userID uint64
	err = tx.QueryRowContext(ctx, `SELECT program_id, user_id FROM payments WHERE order_id = ?`, orderID).Scan(&programID, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return err
	}
	const upRes = `UPDATE reservations SET status = ?, payment_status = ?
        WHERE program_id = ? AND user_id = ? AND status = ?`
	if _, err := tx.ExecContext(ctx, upRes,
		model.ReservationStatusCancelled, model.ReservationPaymentFailed,
		programID, userID, model.ReservationStatusRegistered,
	); err != nil {
		return err
	}
	if err := releaseSlotForOrderTx(ctx, tx, orderID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ClaimCancellation moves a completed payment to cancelling before
// the provider refund call goes out.  The transition is conditional
// on the row still being completed, so of two concurrent
// cancellations only one wins the claim and reaches the provider;
// the loser gets ErrConflict with no money call made.
func (r *BookingRepo) ClaimCancellation(ctx context.Context, orderID string) error {
	const q = `UPDATE payments SET status = ? WHERE order_id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, model.PaymentStatusCancelling, orderID, model.PaymentStatusCompleted)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ReopenCancellation returns a claimed payment to completed after the
// provider refused or failed the refund, so the booking stays
// cancellable.
func (r *BookingRepo) ReopenCancellation(ctx context.Context, orderID string) error {
	const q = `UPDATE payments SET status = ? WHERE order_id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, model.PaymentStatusCompleted, orderID, model.PaymentStatusCancelling)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// CancelCommitted tears down a booking whose cancellation was claimed
// and whose provider refund succeeded: payment cancelled, reservation
// cancelled with payment_status refunded, the completed refund row
// recorded, and the slot released once.  All in a single transaction.
func (r *BookingRepo) CancelCommitted(ctx context.Context, orderID string, refund *model.Refund, raw []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const upPay = `UPDATE payments SET status = ?, raw_data = ?, cancelled_at = UTC_TIMESTAMP()
        WHERE order_id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, upPay, model.PaymentStatusCancelled, raw, orderID, model.PaymentStatusCancelling)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	var resID sql.NullInt64
	var payID uint64
	if err := tx.QueryRowContext(ctx, `SELECT id, reservation_id FROM payments WHERE order_id = ?`, orderID).Scan(&payID, &resID); err != nil {
		return err
	}
	if !resID.Valid {
		return ErrReservationNotFound
	}
	const upRes = `UPDATE reservations SET status = ?, payment_status = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, upRes,
		model.ReservationStatusCancelled, model.ReservationPaymentRefunded, resID.Int64,
	); err != nil {
		return err
	}
	const insRefund = `INSERT INTO refunds (payment_id, amount, reason, status, processed_by, raw_data)
        VALUES (?, ?, ?, ?, ?, ?)`
	var processedBy interface{}
	if refund.ProcessedBy != nil {
		processedBy = *refund.ProcessedBy
	}
	rres, err := tx.ExecContext(ctx, insRefund,
		payID, refund.Amount, refund.Reason, model.RefundStatusCompleted, processedBy, refund.RawData,
	)
	if err != nil {
		return err
	}
	rid, err := rres.LastInsertId()
	if err != nil {
		return err
	}
	refund.ID = uint64(rid)
	refund.PaymentID = payID
	refund.Status = model.RefundStatusCompleted
	if err := releaseSlotForOrderTx(ctx, tx, orderID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
