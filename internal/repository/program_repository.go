package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/moducoop/booking/internal/model"
)

// ProgramRepo provides CRUD operations for programs.  Reads back the
// catalog that the booking flow quotes and reserves against; writes
// are admin-only.  The current_participants counter is deliberately
// not writable here – it is owned by CapacityRepo and mutated only
// through its conditional updates.
type ProgramRepo struct {
	db *sql.DB
}

// NewProgramRepo returns a new ProgramRepo bound to the given database.
func NewProgramRepo(db *sql.DB) *ProgramRepo { return &ProgramRepo{db: db} }

// DB exposes the underlying handle so that handlers can open
// transactions spanning multiple repositories.
func (r *ProgramRepo) DB() *sql.DB { return r.db }

const programColumns = `id, title, description, category, base_price, early_bird_price,
    early_bird_deadline, max_participants, current_participants, status,
    start_date, end_date, created_at, updated_at`

// scanProgram scans a single row into a model.Program.  Nullable
// pricing columns are converted to pointers.
func scanProgram(row interface{ Scan(...interface{}) error }) (*model.Program, error) {
	var p model.Program
	var ebPrice sql.NullInt64
	var ebDeadline sql.NullTime
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Category, &p.BasePrice, &ebPrice,
		&ebDeadline, &p.MaxParticipants, &p.CurrentParticipants, &p.Status,
		&p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ebPrice.Valid {
		v := ebPrice.Int64
		p.EarlyBirdPrice = &v
	}
	if ebDeadline.Valid {
		t := ebDeadline.Time.UTC()
		p.EarlyBirdDeadline = &t
	}
	return &p, nil
}

// GetByID returns the program with the given id.  It returns
// ErrProgramNotFound when no row exists.
func (r *ProgramRepo) GetByID(ctx context.Context, id uint64) (*model.Program, error) {
	const q = `SELECT ` + programColumns + ` FROM programs WHERE id = ?`
	p, err := scanProgram(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns programs ordered by start date ascending.  Status and
// category filters are optional; an empty string disables the
// filter.  limit caps the page size and offset skips rows, both for
// pagination.
func (r *ProgramRepo) List(ctx context.Context, status, category string, limit, offset int) ([]model.Program, error) {
	q := `SELECT ` + programColumns + ` FROM programs`
	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_date ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	programs := make([]model.Program, 0)
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return programs, nil
}

// Create inserts a new program and populates the generated ID and
// timestamps on the provided struct.  current_participants starts at
// zero and status defaults to open unless set otherwise.
func (r *ProgramRepo) Create(ctx context.Context, p *model.Program) error {
	if p.Status == "" {
		p.Status = model.ProgramStatusOpen
	}
	const q = `INSERT INTO programs
        (title, description, category, base_price, early_bird_price, early_bird_deadline,
         max_participants, current_participants, status, start_date, end_date)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`
	var ebPrice interface{}
	if p.EarlyBirdPrice != nil {
		ebPrice = *p.EarlyBirdPrice
	}
	var ebDeadline interface{}
	if p.EarlyBirdDeadline != nil {
		ebDeadline = p.EarlyBirdDeadline.UTC().Format("2006-01-02 15:04:05")
	}
	result, err := r.db.ExecContext(ctx, q,
		p.Title, p.Description, p.Category, p.BasePrice, ebPrice, ebDeadline,
		p.MaxParticipants, p.Status,
		p.StartDate.UTC().Format("2006-01-02 15:04:05"),
		p.EndDate.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	// Query back the full row to populate timestamps and defaults
	const sel = `SELECT ` + programColumns + ` FROM programs WHERE id = ?`
	got, err := scanProgram(r.db.QueryRowContext(ctx, sel, p.ID))
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

// Update rewrites the editable fields of a program.  The
// current_participants counter and status are not touched; use
// UpdateStatus for status changes.  ErrProgramNotFound is returned
// when the id matches no row.
func (r *ProgramRepo) Update(ctx context.Context, p *model.Program) error {
	const q = `UPDATE programs SET title = ?, description = ?, category = ?,
        base_price = ?, early_bird_price = ?, early_bird_deadline = ?,
        max_participants = ?, start_date = ?, end_date = ?
        WHERE id = ?`
	var ebPrice interface{}
	if p.EarlyBirdPrice != nil {
		ebPrice = *p.EarlyBirdPrice
	}
	var ebDeadline interface{}
	if p.EarlyBirdDeadline != nil {
		ebDeadline = p.EarlyBirdDeadline.UTC().Format("2006-01-02 15:04:05")
	}
	result, err := r.db.ExecContext(ctx, q,
		p.Title, p.Description, p.Category, p.BasePrice, ebPrice, ebDeadline,
		p.MaxParticipants,
		p.StartDate.UTC().Format("2006-01-02 15:04:05"),
		p.EndDate.UTC().Format("2006-01-02 15:04:05"),
		p.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero affected rows both for a missing id and
		// for a no-op update, so confirm existence separately.
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM programs WHERE id = ?`, p.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrProgramNotFound
			}
			return err
		}
	}
	return nil
}

// UpdateStatus transitions a program's status (e.g. to cancelled or
// completed by an admin).  It returns ErrProgramNotFound for an
// unknown id.
func (r *ProgramRepo) UpdateStatus(ctx context.Context, id uint64, status string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE programs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM programs WHERE id = ?`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrProgramNotFound
			}
			return err
		}
	}
	return nil
}

// Delete removes a program.  It refuses with ErrConflict while any
// non-cancelled reservation references the program, so paid bookings
// are never silently orphaned.
func (r *ProgramRepo) Delete(ctx context.Context, id uint64) error {
	var count int
	const check = `SELECT COUNT(*) FROM reservations WHERE program_id = ? AND status <> ?`
	if err := r.db.QueryRowContext(ctx, check, id, model.ReservationStatusCancelled).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrConflict
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM programs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProgramNotFound
	}
	return nil
}
