package model

import "time"

// Program statuses.  A program accepts bookings only while it is
// OPEN.  FULL is set by the capacity guard when the last slot is
// taken and cleared again when a slot is released.
const (
	ProgramStatusOpen      = "open"
	ProgramStatusFull      = "full"
	ProgramStatusCancelled = "cancelled"
	ProgramStatusCompleted = "completed"
)

// Program represents a bookable cooperative program (a class, a
// workshop, a camp).  Pricing supports an optional early-bird amount
// valid until a deadline instant.  CurrentParticipants is a
// denormalised counter owned exclusively by the capacity guard and is
// mutated only through its conditional update; it must always satisfy
// 0 <= CurrentParticipants <= MaxParticipants.
//
// Fields:
//  ID                  – primary key identifier.
//  Title               – display title of the program.
//  Description         – long description shown on the detail page.
//  Category            – free-form category label used for filtering.
//  BasePrice           – regular price in KRW.
//  EarlyBirdPrice      – discounted price in KRW (nullable).
//  EarlyBirdDeadline   – instant until which the early-bird price
//                        applies, inclusive (nullable).
//  MaxParticipants     – capacity of the program.
//  CurrentParticipants – number of slots currently taken.
//  Status              – open, full, cancelled or completed.
//  StartDate           – when the program begins.
//  EndDate             – when the program ends.
//  CreatedAt           – creation timestamp.
//  UpdatedAt           – last update timestamp.
type Program struct {
	ID                  uint64     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Category            string     `json:"category"`
	BasePrice           int64      `json:"base_price"`
	EarlyBirdPrice      *int64     `json:"early_bird_price,omitempty"`
	EarlyBirdDeadline   *time.Time `json:"early_bird_deadline,omitempty"`
	MaxParticipants     uint32     `json:"max_participants"`
	CurrentParticipants uint32     `json:"current_participants"`
	Status              string     `json:"status"`
	StartDate           time.Time  `json:"start_date"`
	EndDate             time.Time  `json:"end_date"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Started reports whether the program has begun at the given instant.
// Cancellations and refund-eligible cancellations are only accepted
// before the start date.
func (p *Program) Started(at time.Time) bool {
	return !at.Before(p.StartDate)
}
