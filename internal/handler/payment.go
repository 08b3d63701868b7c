package handler

import (
	"io"       // reading the raw webhook body for signature checks
	"net/http" // HTTP status codes

	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/sirupsen/logrus"  // structured logging

	"github.com/moducoop/booking/internal/booking"
	"github.com/moducoop/booking/internal/payment"
)

// PaymentHandler receives the provider's success callback and its
// asynchronous webhooks.  Neither input is trusted: both paths funnel
// into the orchestrator's server-side approval, which re-verifies the
// charge and the amount with the provider before anything commits.
type PaymentHandler struct {
	Flow          *booking.Orchestrator
	WebhookSecret string
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(flow *booking.Orchestrator, webhookSecret string) *PaymentHandler {
	if flow == nil {
		panic("nil orchestrator passed to NewPaymentHandler")
	}
	return &PaymentHandler{Flow: flow, WebhookSecret: webhookSecret}
}

// Confirm handles POST /v1/payments/confirm.  The checkout widget
// redirects here after the customer finishes; the body carries the
// order id and the provider transaction id (payment key or tid).
// Approving an already-committed order returns it again, so the
// member can safely retry the redirect.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		OrderID      string `json:"order_id"`
		ProviderTxID string `json:"provider_tx_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.OrderID == "" || body.ProviderTxID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id and provider_tx_id are required"})
	}
	res, err := h.Flow.Approve(c.Request().Context(), body.OrderID, body.ProviderTxID)
	if err != nil {
		return respondError(c, err)
	}
	if res.UserID != userID && !isAdmin(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, echo.Map{"reservation": res})
}

// Webhook handles POST /v1/payments/webhook.  Deliveries are
// authenticated by HMAC signature, then treated as hints: an
// approved event triggers the same server-side approval as the
// redirect, so a lost redirect still commits the booking.  Anything
// unverifiable is acknowledged with 200 so the provider stops
// retrying; the reconcile sweep settles whatever was missed.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	sig := c.Request().Header.Get("X-Webhook-Signature")
	if !payment.VerifySignature(h.WebhookSecret, body, sig) {
		logrus.WithField("remote", c.RealIP()).Warn("webhook signature mismatch")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bad signature"})
	}
	ev := payment.ParseWebhook(body)
	switch ev.Kind {
	case payment.WebhookPaymentApproved:
		if ev.OrderID == "" || ev.ProviderTxID == "" {
			logrus.Warn("approved webhook missing order or transaction id")
			break
		}
		if _, err := h.Flow.Approve(c.Request().Context(), ev.OrderID, ev.ProviderTxID); err != nil {
			logrus.WithError(err).WithField("order_id", ev.OrderID).Warn("webhook-driven approval failed")
		}
	case payment.WebhookPaymentCancelled:
		logrus.WithField("order_id", ev.OrderID).Info("provider reports cancellation")
	default:
		logrus.WithField("order_id", ev.OrderID).Info("unrecognised webhook event")
	}
	return c.NoContent(http.StatusOK)
}
