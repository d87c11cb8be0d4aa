package handler

import (
	"errors"
	"net/http"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/middleware"
	"referpay/internal/repository"
	"referpay/internal/service"

	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	ledger  *repository.Ledger
	payouts *service.PayoutService
}

func NewPayoutHandler(ledger *repository.Ledger, payouts *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{ledger: ledger, payouts: payouts}
}

// GetMyPayouts lists the authenticated user's payouts, newest first.
// GET /me/payouts
func (h *PayoutHandler) GetMyPayouts(c *gin.Context) {
	limit, offset := pagination(c)
	list, err := h.ledger.ListPayoutsByUser(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list payouts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": list, "total": len(list)})
}

// Retry creates and dispatches the next payout attempt for a referral.
// POST /admin/referrals/:id/payouts/retry
func (h *PayoutHandler) Retry(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}
	p, err := h.payouts.Retry(c.Request.Context(), uint(id))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "referral not found"})
		return
	case errors.Is(err, domain.ErrAttemptsExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": "payout attempts exhausted"})
		return
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "referral has a payout in flight"})
		return
	case domain.IsTransferFailure(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "payout": p})
		return
	case errors.Is(err, domain.ErrNotEligible):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "referral has no payout to retry"})
		return
	case domain.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, try again"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not retry payout"})
		return
	}
	c.JSON(http.StatusCreated, p)
}
