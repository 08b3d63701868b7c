package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/moducoop/booking/internal/model"
)

// CapacityRepo owns the programs.current_participants counter.  All
// mutations go through single conditional UPDATE statements so that
// concurrent bookings can never overbook: the check and the increment
// are one atomic operation at the database, never a read-then-write
// pair in Go.
type CapacityRepo struct {
	db *sql.DB
}

// NewCapacityRepo returns a new CapacityRepo bound to the given database.
func NewCapacityRepo(db *sql.DB) *CapacityRepo { return &CapacityRepo{db: db} }

// ReserveSlot atomically claims one participant slot on an open
// program.  The UPDATE increments the counter and flips the status to
// full in the same statement when the last slot is taken.  When no
// row is affected the slot was not granted; the follow-up SELECT
// distinguishes a missing program, a closed program and a full one.
func (r *CapacityRepo) ReserveSlot(ctx context.Context, programID uint64) error {
	const q = `UPDATE programs
        SET current_participants = current_participants + 1,
            status = IF(current_participants + 1 >= max_participants, ?, status)
        WHERE id = ? AND status = ? AND current_participants < max_participants`
	result, err := r.db.ExecContext(ctx, q, model.ProgramStatusFull, programID, model.ProgramStatusOpen)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status string
	var current, max uint32
	const sel = `SELECT status, current_participants, max_participants FROM programs WHERE id = ?`
	if err := r.db.QueryRowContext(ctx, sel, programID).Scan(&status, &current, &max); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProgramNotFound
		}
		return err
	}
	if status == model.ProgramStatusFull || current >= max {
		return ErrProgramFull
	}
	if status != model.ProgramStatusOpen {
		return ErrProgramNotOpen
	}
	// The program looked bookable on re-read; the first UPDATE lost a
	// race that has since resolved. Report full so the caller retries.
	return ErrProgramFull
}

// ReleaseSlot gives one slot back, flooring at zero, and reopens a
// full program.  Callers that roll back a specific booking must go
// through releaseSlotForOrderTx instead, which guards against double
// release via the payment row; ReleaseSlot itself is the raw
// decrement used once that guard has been passed.
func (r *CapacityRepo) ReleaseSlot(ctx context.Context, programID uint64) error {
	return releaseSlot(ctx, r.db, programID)
}

// execer captures the subset of *sql.DB and *sql.Tx needed by the
// release statement so the same SQL serves both paths.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func releaseSlot(ctx context.Context, e execer, programID uint64) error {
	const q = `UPDATE programs
        SET current_participants = current_participants - 1,
            status = IF(status = ?, ?, status)
        WHERE id = ? AND current_participants > 0`
	_, err := e.ExecContext(ctx, q, model.ProgramStatusFull, model.ProgramStatusOpen, programID)
	return err
}

// releaseSlotForOrderTx releases the capacity slot held by the given
// order exactly once.  The payments.slot_released flag is
// test-and-set inside the caller's transaction: when the flag was
// already set, or no slot row matches, the decrement is skipped and
// the call is a no-op.  This makes rollback and cancellation paths
// safe to retry.
func releaseSlotForOrderTx(ctx context.Context, tx *sql.Tx, orderID string) error {
	const claim = `UPDATE payments SET slot_released = 1 WHERE order_id = ? AND slot_released = 0`
	result, err := tx.ExecContext(ctx, claim, orderID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil // already released, or no such order
	}
	var programID uint64
	if err := tx.QueryRowContext(ctx, `SELECT program_id FROM payments WHERE order_id = ?`, orderID).Scan(&programID); err != nil {
		return err
	}
	return releaseSlot(ctx, tx, programID)
}
