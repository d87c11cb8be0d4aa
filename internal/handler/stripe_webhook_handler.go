package handler

import (
	"errors"
	"io"
	"net/http"

	"referpay/config"
	"referpay/internal/domain"
	"referpay/internal/service"
	"referpay/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	stripewebhook "github.com/stripe/stripe-go/v80/webhook"
)

// StripeWebhookHandler receives transfer status events from Stripe.
type StripeWebhookHandler struct {
	reconcile *service.ReconcileService
	cfg       *config.StripeConfig
}

func NewStripeWebhookHandler(reconcile *service.ReconcileService, cfg *config.StripeConfig) *StripeWebhookHandler {
	return &StripeWebhookHandler{reconcile: reconcile, cfg: cfg}
}

// Handle verifies the Stripe-Signature header when a webhook secret is
// configured, then reconciles the payout the transfer belongs to.
// POST /webhooks/stripe
func (h *StripeWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	var ev webhook.TransferEvent
	if h.cfg.WebhookSecret != "" {
		event, err := stripewebhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), h.cfg.WebhookSecret,
			stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		if ignored(event) {
			c.JSON(http.StatusOK, gin.H{"received": true, "outcome": domain.OutcomeIgnored})
			return
		}
		ev, err = webhook.TransferEventFromStripe(event)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		ev, err = webhook.ParseTransferEvent(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	p, outcome, err := h.reconcile.HandleTransferEvent(c.Request.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": domain.OutcomeConflict})
		return
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": domain.OutcomeIgnored})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process event"})
		return
	}
	out := gin.H{"received": true, "outcome": outcome}
	if p != nil {
		out["payout_id"] = p.ID
		out["payout_status"] = p.Status
	}
	c.JSON(http.StatusOK, out)
}

func ignored(event stripe.Event) bool {
	_, ok := webhook.PayoutStatusFor(string(event.Type))
	return !ok
}
