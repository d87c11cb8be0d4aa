package handler

import (
	"errors"
	"net/http"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/middleware"
	"referpay/internal/repository"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	referralRepo *repository.ReferralRepository
	ledger       *repository.Ledger
}

func NewReferralHandler(referralRepo *repository.ReferralRepository, ledger *repository.Ledger) *ReferralHandler {
	return &ReferralHandler{referralRepo: referralRepo, ledger: ledger}
}

// GetMyReferralCode returns the authenticated user's referral code, creating one if it doesn't exist yet.
// GET /me/referral-code
func (h *ReferralHandler) GetMyReferralCode(c *gin.Context) {
	userID := middleware.GetUserID(c)
	rc, err := h.referralRepo.GetOrCreateCode(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not get referral code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       rc.Code,
		"is_active":  rc.IsActive,
		"created_at": rc.CreatedAt,
	})
}

// RotateMyReferralCode retires the authenticated user's active code and issues
// a fresh one. Referrals already attributed to the old code are kept.
// POST /me/referral-code/rotate
func (h *ReferralHandler) RotateMyReferralCode(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	if err := h.referralRepo.DeactivateCode(ctx, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not retire referral code"})
		return
	}
	rc, err := h.referralRepo.GetOrCreateCode(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not get referral code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       rc.Code,
		"is_active":  rc.IsActive,
		"created_at": rc.CreatedAt,
	})
}

// GetMyReferrals lists the referrals attributed to the authenticated user.
// GET /me/referrals
func (h *ReferralHandler) GetMyReferrals(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, offset := pagination(c)

	referrals, err := h.referralRepo.ListByReferrerID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list referrals"})
		return
	}

	out := make([]gin.H, 0, len(referrals))
	for _, ref := range referrals {
		out = append(out, gin.H{
			"id":               ref.ID,
			"referral_code":    ref.ReferralCode,
			"referred_contact": ref.ReferredContact,
			"job_ref":          ref.JobRef(),
			"status":           ref.Status,
			"job_total_cents":  ref.JobTotalCents,
			"reward_cents":     ref.RewardCents,
			"payout_attempts":  ref.PayoutAttempts,
			"job_completed_at": ref.JobCompletedAt,
			"created_at":       ref.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"referrals": out, "total": len(out)})
}

type createReferralRequest struct {
	Code    string `json:"code" binding:"required"`
	Contact string `json:"contact"`
}

// Create seeds a pending referral when a booking is made with a referral code.
// POST /referrals
func (h *ReferralHandler) Create(c *gin.Context) {
	var req createReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := h.ledger.CreateReferral(c.Request.Context(), req.Code, req.Contact)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown referral code"})
		return
	case errors.Is(err, domain.ErrSelfReferral):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cannot refer yourself"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create referral"})
		return
	}
	c.JSON(http.StatusCreated, ref)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
