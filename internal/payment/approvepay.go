package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ApprovePay integrates the server-approval provider.  Checkout is
// opened against the provider up front, which returns a checkout id
// the client renders; after the customer authorises, the provider
// calls back with a transaction id (tid) that the server approves
// explicitly with the amount.
type ApprovePay struct {
	client    *apiClient
	clientKey string
}

// NewApprovePay builds the server-approval gateway.
func NewApprovePay(baseURL, clientKey, secretKey string, timeout time.Duration, maxRetries int) *ApprovePay {
	return &ApprovePay{
		client:    newAPIClient(baseURL, secretKey, timeout, maxRetries),
		clientKey: clientKey,
	}
}

// approvePayResponse is the typed subset of the provider's
// transaction object.
type approvePayResponse struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
	TID        string `json:"tid"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	PayMethod  string `json:"payMethod"`
	Status     string `json:"status"`
	PaidAt     string `json:"paidAt"`
	CheckoutID string `json:"checkoutId"`
}

const approveOKCode = "0000"

// Initiate registers the order with the provider and returns the
// checkout id the client needs.
func (g *ApprovePay) Initiate(ctx context.Context, req InitiateRequest) (*ClientHandoff, error) {
	payload := map[string]interface{}{
		"orderId":   req.OrderID,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"goodsName": req.OrderName,
		"returnUrl": req.SuccessURL,
		"failUrl":   req.FailURL,
	}
	status, raw, err := g.client.doJSON(ctx, http.MethodPost, "/v1/checkouts", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp approvePayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	return &ClientHandoff{
		Provider:   ProviderApprovePay,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		ClientKey:  g.clientKey,
		CheckoutID: resp.CheckoutID,
	}, nil
}

// Approve finalises the transaction via POST /v1/payments/{tid}.  The
// amount is sent with the request and checked again on the response;
// the provider's result code must be the success code and the
// reported amount must equal expectedAmount.
func (g *ApprovePay) Approve(ctx context.Context, providerTxID, orderID string, expectedAmount int64) (*ApprovedPayment, error) {
	payload := map[string]interface{}{"amount": expectedAmount}
	path := "/v1/payments/" + url.PathEscape(providerTxID)
	status, raw, err := g.client.doJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp approvePayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode approve response: %w", err)
	}
	if resp.ResultCode != approveOKCode {
		return nil, &ProviderError{Code: resp.ResultCode, Message: resp.ResultMsg, Status: status, Err: ErrDeclined}
	}
	if resp.Amount != expectedAmount {
		return nil, &ProviderError{
			Code:    "AMOUNT_MISMATCH",
			Message: fmt.Sprintf("expected %d, provider reports %d", expectedAmount, resp.Amount),
			Status:  status,
			Err:     ErrAmountMismatch,
		}
	}
	if resp.OrderID != orderID {
		return nil, &ProviderError{
			Code:    "ORDER_MISMATCH",
			Message: fmt.Sprintf("expected order %s, provider reports %s", orderID, resp.OrderID),
			Status:  status,
			Err:     ErrDeclined,
		}
	}
	paidAt, err := time.Parse(time.RFC3339, resp.PaidAt)
	if err != nil {
		paidAt = time.Now().UTC()
	}
	return &ApprovedPayment{
		ProviderTxID: resp.TID,
		OrderID:      resp.OrderID,
		Amount:       resp.Amount,
		Method:       resp.PayMethod,
		ApprovedAt:   paidAt.UTC(),
		RawData:      raw,
	}, nil
}

// Cancel refunds via POST /v1/payments/{tid}/cancel.
func (g *ApprovePay) Cancel(ctx context.Context, providerTxID string, amount int64, reason string) (*CancelledPayment, error) {
	payload := map[string]interface{}{
		"reason":    reason,
		"cancelAmt": amount,
	}
	path := "/v1/payments/" + url.PathEscape(providerTxID) + "/cancel"
	status, raw, err := g.client.doJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerFailure(status, raw, ErrDeclined)
	}
	var resp approvePayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cancel response: %w", err)
	}
	if resp.ResultCode != approveOKCode {
		return nil, &ProviderError{Code: resp.ResultCode, Message: resp.ResultMsg, Status: status, Err: ErrDeclined}
	}
	return &CancelledPayment{
		ProviderTxID: resp.TID,
		Amount:       amount,
		CancelledAt:  time.Now().UTC(),
		RawData:      raw,
	}, nil
}

// Status looks the order up via GET /v1/payments?orderId=.
func (g *ApprovePay) Status(ctx context.Context, orderID string) (*StatusResult, error) {
	path := "/v1/payments?orderId=" + url.QueryEscape(orderID)
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
	var resp approvePayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &StatusResult{
		Approved:     resp.Status == "paid",
		ProviderTxID: resp.TID,
		Amount:       resp.Amount,
		RawData:      raw,
	}, nil
}
