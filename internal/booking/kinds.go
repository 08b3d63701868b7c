package booking

import (
	"errors"

	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/pricing"
	"github.com/moducoop/booking/internal/repository"
)

// Kind buckets every error the orchestrator can return so handlers
// map failures to responses uniformly: bad input the user can fix,
// a full program, a payment failure, or a persistence problem.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindCapacity
	KindPayment
	KindPersistence
	KindNotFound
	KindForbidden
	KindConflict
)

// Classify maps an orchestrator error to its Kind.  Raw component
// errors never escape unclassified: anything unrecognised is treated
// as a persistence fault (transient store I/O).
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput), errors.Is(err, pricing.ErrPriceChanged):
		return KindValidation
	case errors.Is(err, ErrProgramStarted):
		return KindConflict
	case errors.Is(err, repository.ErrProgramFull), errors.Is(err, repository.ErrProgramNotOpen):
		return KindCapacity
	case errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrDeclined),
		errors.Is(err, payment.ErrProviderTimeout):
		return KindPayment
	case errors.Is(err, repository.ErrProgramNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrReservationNotFound),
		errors.Is(err, repository.ErrRefundNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrForbidden):
		return KindForbidden
	case errors.Is(err, repository.ErrAlreadyReserved), errors.Is(err, repository.ErrConflict):
		return KindConflict
	default:
		return KindPersistence
	}
}

// Retryable reports whether the failure is worth repeating without
// user intervention: provider timeouts and transient store I/O are,
// declines, mismatches and conflicts are not.
func Retryable(err error) bool {
	if errors.Is(err, payment.ErrProviderTimeout) {
		return true
	}
	return Classify(err) == KindPersistence
}
