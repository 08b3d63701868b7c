package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/moducoop/booking/internal/model"
)

// RefundRepo provides data access to the refunds table.  Pre-start
// cancellation refunds are written by BookingRepo.CancelCommitted in
// the same transaction as the cancellation itself; this repository
// handles the member-requested, admin-resolved flow.
type RefundRepo struct {
	db *sql.DB
}

// NewRefundRepo returns a new RefundRepo bound to the given database.
func NewRefundRepo(db *sql.DB) *RefundRepo { return &RefundRepo{db: db} }

const refundColumns = `id, payment_id, amount, reason, status, processed_by, raw_data, created_at, updated_at`

func scanRefund(row interface{ Scan(...interface{}) error }) (*model.Refund, error) {
	var rf model.Refund
	var processedBy sql.NullInt64
	var raw []byte
	err := row.Scan(&rf.ID, &rf.PaymentID, &rf.Amount, &rf.Reason, &rf.Status, &processedBy, &raw, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if processedBy.Valid {
		id := uint64(processedBy.Int64)
		rf.ProcessedBy = &id
	}
	rf.RawData = raw
	return &rf, nil
}

// Create inserts a pending refund request.  The requested amount must
// not exceed the payment's amount minus all prior non-rejected
// refunds; violations return ErrConflict.  The check and the insert
// run in one transaction so concurrent requests cannot jointly exceed
// the bound.
func (r *RefundRepo) Create(ctx context.Context, rf *model.Refund) error {
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
	var paid int64
	if err := tx.QueryRowContext(ctx, `SELECT amount FROM payments WHERE id = ? FOR UPDATE`, rf.PaymentID).Scan(&paid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return err
	}
	var refunded int64
	const sum = `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = ? AND status <> ?`
	if err := tx.QueryRowContext(ctx, sum, rf.PaymentID, model.RefundStatusRejected).Scan(&refunded); err != nil {
		return err
	}
	if rf.Amount <= 0 || rf.Amount > paid-refunded {
		return ErrConflict
	}
	const ins = `INSERT INTO refunds (payment_id, amount, reason, status) VALUES (?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, ins, rf.PaymentID, rf.Amount, rf.Reason, model.RefundStatusPending)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rf.ID = uint64(id)
	rf.Status = model.RefundStatusPending
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID returns a single refund, or ErrRefundNotFound.
func (r *RefundRepo) GetByID(ctx context.Context, id uint64) (*model.Refund, error) {
	const q = `SELECT ` + refundColumns + ` FROM refunds WHERE id = ?`
	rf, err := scanRefund(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return rf, nil
}

// ListByStatus returns refunds in the given status, oldest first so
// admins work the queue in order.  An empty status returns all.
func (r *RefundRepo) ListByStatus(ctx context.Context, status string) ([]model.Refund, error) {
	q := `SELECT ` + refundColumns + ` FROM refunds`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Refund, 0)
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve moves a pending refund to the given terminal status and
// records who processed it, together with the provider's cancel
// response when one exists.  The transition is conditional on the row
// still being pending; a lost race returns ErrConflict.
func (r *RefundRepo) Resolve(ctx context.Context, id uint64, status string, processedBy uint64, raw []byte) error {
	const q = `UPDATE refunds SET status = ?, processed_by = ?, raw_data = ?
        WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, q, status, processedBy, raw, id, model.RefundStatusPending)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM refunds WHERE id = ?`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRefundNotFound
			}
			return err
		}
		return ErrConflict
	}
	return nil
}

// PaymentForRefund returns the payment a refund request targets.
// Used by the admin approval handler to drive the provider cancel.
func (r *RefundRepo) PaymentForRefund(ctx context.Context, refundID uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
        WHERE id = (SELECT payment_id FROM refunds WHERE id = ?)`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, refundID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return p, nil
}
