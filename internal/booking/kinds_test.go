package booking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/pricing"
	"github.com/moducoop/booking/internal/repository"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"invalid input", ErrInvalidInput, KindValidation},
		{"price changed", pricing.ErrPriceChanged, KindValidation},
		{"program started", ErrProgramStarted, KindConflict},
		{"program full", repository.ErrProgramFull, KindCapacity},
		{"program not open", repository.ErrProgramNotOpen, KindCapacity},
		{"amount mismatch", payment.ErrAmountMismatch, KindPayment},
		{"declined", payment.ErrDeclined, KindPayment},
		{"timeout", payment.ErrProviderTimeout, KindPayment},
		{"wrapped decline", &payment.ProviderError{Code: "REJECT_CARD", Err: payment.ErrDeclined}, KindPayment},
		{"program not found", repository.ErrProgramNotFound, KindNotFound},
		{"payment not found", repository.ErrPaymentNotFound, KindNotFound},
		{"forbidden", repository.ErrForbidden, KindForbidden},
		{"already reserved", repository.ErrAlreadyReserved, KindConflict},
		{"conflict", repository.ErrConflict, KindConflict},
		{"raw io error", errors.New("connection reset"), KindPersistence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.kind, Classify(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(payment.ErrProviderTimeout))
	require.True(t, Retryable(errors.New("connection reset")))
	require.False(t, Retryable(payment.ErrDeclined))
	require.False(t, Retryable(payment.ErrAmountMismatch))
	require.False(t, Retryable(repository.ErrProgramFull))
	require.False(t, Retryable(repository.ErrConflict))
}
