package handler

import (
	"net/http"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/repository"

	"github.com/gin-gonic/gin"
)

// policySettings are the system_settings keys an admin may override.
var policySettings = map[string]bool{
	domain.SettingReferralCommissionBps:  true,
	domain.SettingReferralMinRewardCents: true,
	domain.SettingReferralMaxRewardCents: true,
	domain.SettingPayoutMaxAttempts:      true,
}

type SettingHandler struct {
	settingRepo *repository.SettingRepository
}

func NewSettingHandler(settingRepo *repository.SettingRepository) *SettingHandler {
	return &SettingHandler{settingRepo: settingRepo}
}

// List returns every stored setting override.
// GET /admin/settings
func (h *SettingHandler) List(c *gin.Context) {
	list, err := h.settingRepo.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not load settings"})
		return
	}
	out := make(gin.H, len(list))
	for _, s := range list {
		out[s.Key] = s.Value
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

type updateSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// Update overrides one reward policy setting. Values are non-negative integers.
// PUT /admin/settings/:key
func (h *SettingHandler) Update(c *gin.Context) {
	key := c.Param("key")
	if !policySettings[key] {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown setting"})
		return
	}
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := strconv.ParseInt(req.Value, 10, 64)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be a non-negative integer"})
		return
	}
	if err := h.settingRepo.Set(c.Request.Context(), key, req.Value); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not store setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
