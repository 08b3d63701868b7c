package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func approveServer(t *testing.T, handler http.HandlerFunc) *ApprovePay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewApprovePay(srv.URL, "ck_test", "sk_test", 2*time.Second, 0)
}

func TestApprovePay_InitiateRegistersCheckout(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkouts", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ORD-1", body["orderId"])
		json.NewEncoder(w).Encode(map[string]interface{}{"checkoutId": "chk_1"})
	})

	h, err := g.Initiate(context.Background(), InitiateRequest{
		OrderID: "ORD-1", Amount: 50000, Currency: "KRW", OrderName: "Autumn Art Class",
	})
	require.NoError(t, err)
	require.Equal(t, ProviderApprovePay, h.Provider)
	require.Equal(t, "chk_1", h.CheckoutID)
}

func TestApprovePay_ApproveSuccess(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/tid_1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": "0000",
			"resultMsg":  "success",
			"tid":        "tid_1",
			"orderId":    "ORD-1",
			"amount":     50000,
			"payMethod":  "card",
			"paidAt":     "2026-02-10T12:00:00Z",
		})
	})

	approved, err := g.Approve(context.Background(), "tid_1", "ORD-1", 50000)
	require.NoError(t, err)
	require.Equal(t, "tid_1", approved.ProviderTxID)
	require.Equal(t, int64(50000), approved.Amount)
}

func TestApprovePay_ApproveDeclineCode(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": "3001",
			"resultMsg":  "insufficient funds",
		})
	})

	_, err := g.Approve(context.Background(), "tid_1", "ORD-1", 50000)
	require.True(t, errors.Is(err, ErrDeclined))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "3001", pe.Code)
}

func TestApprovePay_ApproveAmountMismatch(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": "0000",
			"tid":        "tid_1",
			"orderId":    "ORD-1",
			"amount":     100,
		})
	})

	_, err := g.Approve(context.Background(), "tid_1", "ORD-1", 50000)
	require.True(t, errors.Is(err, ErrAmountMismatch))
}

func TestApprovePay_ApproveOrderMismatch(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": "0000",
			"tid":        "tid_1",
			"orderId":    "ORD-other",
			"amount":     50000,
		})
	})

	_, err := g.Approve(context.Background(), "tid_1", "ORD-1", 50000)
	require.True(t, errors.Is(err, ErrDeclined))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "ORDER_MISMATCH", pe.Code)
}

func TestApprovePay_StatusPaid(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ORD-1", r.URL.Query().Get("orderId"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tid": "tid_1", "orderId": "ORD-1", "amount": 50000, "status": "paid",
		})
	})

	st, err := g.Status(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.True(t, st.Approved)
	require.Equal(t, "tid_1", st.ProviderTxID)
}

func TestApprovePay_CancelSuccess(t *testing.T) {
	g := approveServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/tid_1/cancel", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": "0000", "tid": "tid_1",
		})
	})

	cancelled, err := g.Cancel(context.Background(), "tid_1", 20000, "partial refund")
	require.NoError(t, err)
	require.Equal(t, int64(20000), cancelled.Amount)
}
