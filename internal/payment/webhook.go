package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Webhook event kinds after parsing.  Unknown shapes are preserved
// rather than rejected so that new provider event types surface in
// logs instead of being dropped.
const (
	WebhookPaymentApproved  = "payment.approved"
	WebhookPaymentCancelled = "payment.cancelled"
	WebhookUnknown          = "unknown"
)

// WebhookEvent is the parsed, still-untrusted callback payload.  The
// fields carry what the provider claims happened; the caller must
// re-verify through a server-side Approve/Status call before acting
// on it.
type WebhookEvent struct {
	Kind         string
	OrderID      string
	ProviderTxID string
	Amount       int64
	Raw          []byte
}

// VerifySignature checks the HMAC-SHA256 hex signature the provider
// attaches to webhook deliveries.  Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// ParseWebhook decodes a webhook body into a WebhookEvent.  The
// payload is modelled as a union of the known shapes with an unknown
// fallback – it is never trusted as fully typed, and parsing never
// fails on unexpected fields.
func ParseWebhook(body []byte) WebhookEvent {
	var env struct {
		EventType   string `json:"eventType"`
		Status      string `json:"status"`
		OrderID     string `json:"orderId"`
		TID         string `json:"tid"`
		PaymentKey  string `json:"paymentKey"`
		Amount      int64  `json:"amount"`
		TotalAmount int64  `json:"totalAmount"`
	}
	ev := WebhookEvent{Kind: WebhookUnknown, Raw: body}
	if err := json.Unmarshal(body, &env); err != nil {
		return ev
	}
	ev.OrderID = env.OrderID
	ev.ProviderTxID = env.TID
	if ev.ProviderTxID == "" {
		ev.ProviderTxID = env.PaymentKey
	}
	ev.Amount = env.Amount
	if ev.Amount == 0 {
		ev.Amount = env.TotalAmount
	}
	switch {
	case env.EventType == "PAYMENT_STATUS_CHANGED" && env.Status == "DONE",
		env.Status == "paid":
		ev.Kind = WebhookPaymentApproved
	case env.Status == "CANCELED", env.Status == "cancelled":
		ev.Kind = WebhookPaymentCancelled
	}
	return ev
}
