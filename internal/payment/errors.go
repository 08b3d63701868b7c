package payment

import (
	"errors"
	"fmt"
)

// ErrAmountMismatch is returned when the provider-reported amount
// differs from the locked quote.  It is terminal and
// security-relevant: the booking must be rolled back, never
// committed with the provider's amount.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// ErrDeclined is returned when the provider rejects the charge.
// Terminal for the attempt; surfaced to the user.
var ErrDeclined = errors.New("payment declined")

// ErrProviderTimeout is returned when the provider could not be
// reached within the retry budget.  Retryable by the caller.
var ErrProviderTimeout = errors.New("payment provider timeout")

// ProviderError preserves a provider-reported failure code and
// message alongside the mapped sentinel so that callers can match
// with errors.Is while logs keep the original detail.
type ProviderError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap exposes the mapped sentinel (ErrDeclined, ErrAmountMismatch)
// for errors.Is comparisons.
func (e *ProviderError) Unwrap() error { return e.Err }
