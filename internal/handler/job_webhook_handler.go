package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"referpay/config"
	"referpay/internal/domain"
	"referpay/internal/service"
	"referpay/internal/webhook"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 16

// JobWebhookHandler receives job/invoice notifications from the job platform.
type JobWebhookHandler struct {
	ingest *service.IngestService
	cfg    *config.JobPlatformConfig
}

func NewJobWebhookHandler(ingest *service.IngestService, cfg *config.JobPlatformConfig) *JobWebhookHandler {
	return &JobWebhookHandler{ingest: ingest, cfg: cfg}
}

// Handle acknowledges every event that was processed or can never apply, so
// the platform stops redelivering it. Only transient failures return 5xx.
// POST /webhooks/jobs
func (h *JobWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if h.cfg.WebhookSecret != "" && !h.verifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	ev, err := webhook.ParseJobEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.ingest.HandleJobEvent(c.Request.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": domain.OutcomeConflict})
		return
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSelfReferral):
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": domain.OutcomeIgnored})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process event"})
		return
	}
	out := gin.H{"received": true, "outcome": res.Outcome, "referral_id": res.Referral.ID, "status": res.Referral.Status}
	if res.Payout != nil {
		out["payout_id"] = res.Payout.ID
		out["payout_status"] = res.Payout.Status
	}
	c.JSON(http.StatusOK, out)
}

func (h *JobWebhookHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
