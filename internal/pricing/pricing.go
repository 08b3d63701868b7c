// Package pricing computes the effective charge for a program at a
// point in time.  It is a pure function of its inputs: the quote is
// taken once per booking attempt and the result is captured on the
// reservation and payment rows.  Later steps compare against the
// captured amount, never against a fresh quote, so a price change
// mid-flow can never silently alter the charged amount.
package pricing

import (
	"errors"
	"time"

	"github.com/moducoop/booking/internal/model"
)

// Quote is the result of pricing a program at an instant.
type Quote struct {
	Amount      int64 `json:"amount"`
	IsEarlyBird bool  `json:"is_early_bird"`
}

// ErrPriceChanged indicates that the program's current quote no
// longer matches an amount captured earlier in the flow.  The booking
// must be surfaced to the user for re-confirmation, never silently
// re-priced.
var ErrPriceChanged = errors.New("price changed mid-flow")

// ForProgram returns the effective charge for the program at the
// given instant.  The early-bird price applies while an early-bird
// price is set and the instant is at or before the deadline; the
// deadline instant itself still gets the discount.
func ForProgram(p *model.Program, at time.Time) Quote {
	if p.EarlyBirdPrice != nil && p.EarlyBirdDeadline != nil && !at.After(*p.EarlyBirdDeadline) {
		return Quote{Amount: *p.EarlyBirdPrice, IsEarlyBird: true}
	}
	return Quote{Amount: p.BasePrice, IsEarlyBird: false}
}

// Verify re-quotes the program and checks the captured amount still
// holds.  It returns ErrPriceChanged when an admin edit between
// checkout start and approval would alter the charge.
func Verify(p *model.Program, at time.Time, capturedAmount int64) error {
	if q := ForProgram(p, at); q.Amount != capturedAmount {
		return ErrPriceChanged
	}
	return nil
}
