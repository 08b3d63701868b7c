package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WidgetPay integrates the card-widget provider.  The browser widget
// collects the payment method and produces a payment key; the server
// then confirms the charge by posting the payment key, the order id
// and the expected amount to the confirm endpoint.  The provider
// rejects the confirm call itself when the amount differs, but the
// response amount is verified here again regardless.
type WidgetPay struct {
	client    *apiClient
	clientKey string
}

// NewWidgetPay builds the widget-provider gateway.  clientKey is the
// public key the front-end widget is initialised with; secretKey
// authenticates the server-side calls.
func NewWidgetPay(baseURL, clientKey, secretKey string, timeout time.Duration, maxRetries int) *WidgetPay {
	return &WidgetPay{
		client:    newAPIClient(baseURL, secretKey, timeout, maxRetries),
		clientKey: clientKey,
	}
}

// widgetPaymentResponse is the typed subset of the provider's payment
// object.  Everything else stays in the raw body.
type widgetPaymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Method      string `json:"method"`
	ApprovedAt  string `json:"approvedAt"`
}

// Initiate needs no provider round-trip for the widget flow: the
// widget is opened client-side with the public key and the order
// parameters, and the provider learns about the order at confirm
// time.
func (g *WidgetPay) Initiate(ctx context.Context, req InitiateRequest) (*ClientHandoff, error) {
	return &ClientHandoff{
		Provider:  ProviderWidgetPay,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		ClientKey: g.clientKey,
		Parameters: map[string]string{
			"orderName":  req.OrderName,
			"successUrl": req.SuccessURL,
			"failUrl":    req.FailURL,
		},
	}, nil
}

// Approve confirms the charge via POST /v1/payments/confirm.  The
// call is keyed by the payment key produced by the widget; the
// decoded response amount must equal expectedAmount or the payment is
// treated as tampered with.
func (g *WidgetPay) Approve(ctx context.Context, providerTxID, orderID string, expectedAmount int64) (*ApprovedPayment, error) {
	payload := map[string]interface{}{
		"paymentKey": providerTxID,
		"orderId":    orderID,
		"amount":     expectedAmount,
	}
	status, raw, err := g.client.doJSON(ctx, http.MethodPost, "/v1/payments/confirm", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp widgetPaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode approve response: %w", err)
	}
	if resp.Status != "DONE" {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	if resp.TotalAmount != expectedAmount {
		return nil, &ProviderError{
			Code:    "AMOUNT_MISMATCH",
			Message: fmt.Sprintf("expected %d, provider reports %d", expectedAmount, resp.TotalAmount),
			Status:  status,
			Err:     ErrAmountMismatch,
		}
	}
	approvedAt, err := time.Parse(time.RFC3339, resp.ApprovedAt)
	if err != nil {
		approvedAt = time.Now().UTC()
	}
	return &ApprovedPayment{
		ProviderTxID: resp.PaymentKey,
		OrderID:      resp.OrderID,
		Amount:       resp.TotalAmount,
		Method:       resp.Method,
		ApprovedAt:   approvedAt.UTC(),
		RawData:      raw,
	}, nil
}

// Cancel refunds amount via POST /v1/payments/{paymentKey}/cancel.
func (g *WidgetPay) Cancel(ctx context.Context, providerTxID string, amount int64, reason string) (*CancelledPayment, error) {
	payload := map[string]interface{}{
		"cancelReason": reason,
		"cancelAmount": amount,
	}
	path := "/v1/payments/" + url.PathEscape(providerTxID) + "/cancel"
	status, raw, err := g.client.doJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp widgetPaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cancel response: %w", err)
	}
	return &CancelledPayment{
		ProviderTxID: resp.PaymentKey,
		Amount:       amount,
		CancelledAt:  time.Now().UTC(),
		RawData:      raw,
	}, nil
}

// Status looks the order up via GET /v1/payments/orders/{orderId}.
// A 404 means the widget was abandoned before the provider ever saw
// the order; that is a definitive not-approved, not an error.
func (g *WidgetPay) Status(ctx context.Context, orderID string) (*StatusResult, error) {
	path := "/v1/payments/orders/" + url.PathEscape(orderID)
	status, raw, err := g.client.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &StatusResult{Approved: false, RawData: raw}, nil
	}
	if status != http.StatusOK {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp widgetPaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &StatusResult{
		Approved:     resp.Status == "DONE",
		ProviderTxID: resp.PaymentKey,
		Amount:       resp.TotalAmount,
		RawData:      raw,
	}, nil
}
