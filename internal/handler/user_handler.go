package handler

import (
	"net/http"
	"strings"

	"referpay/internal/middleware"
	"referpay/internal/repository"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

type payoutAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// SetPayoutAccount links the connected account rewards are transferred to.
// PUT /me/payout-account
func (h *UserHandler) SetPayoutAccount(c *gin.Context) {
	var req payoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account := strings.TrimSpace(req.AccountID)
	if !strings.HasPrefix(account, "acct_") || len(account) == len("acct_") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id must be a connected account id (acct_...)"})
		return
	}
	userID := middleware.GetUserID(c)
	if err := h.userRepo.SetPayoutAccount(c.Request.Context(), userID, account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update payout account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account})
}
