package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"referpay/internal/models"

	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// NormalizeCode upper-cases and trims a referral code so lookups are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateReferralCode returns an 8-character uppercase hex referral code.
func generateReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// GetOrCreateCode returns the user's active referral code, or creates a new unique one.
func (r *ReferralRepository) GetOrCreateCode(ctx context.Context, userID uint) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := r.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).First(&rc).Error
	if err == nil {
		return &rc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr("referral_codes.get", "referral code", err)
	}
	for i := 0; i < 10; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		rc = models.ReferralCode{UserID: userID, Code: code, IsActive: true}
		err = r.db.WithContext(ctx).Create(&rc).Error
		if err == nil {
			return &rc, nil
		}
		if !isDuplicateKey(err) {
			return nil, storageErr("referral_codes.create", "referral code", err)
		}
		// Collision: retry with new code
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after retries")
}

// GetByCode returns an active ReferralCode record matching the given code string.
func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := r.db.WithContext(ctx).Where("code = ? AND is_active = ?", NormalizeCode(code), true).First(&rc).Error
	if err != nil {
		return nil, storageErr("referral_codes.get", "referral code "+NormalizeCode(code), err)
	}
	return &rc, nil
}

// DeactivateCode retires the user's active codes. A new one is created lazily
// on the next GetOrCreateCode.
func (r *ReferralRepository) DeactivateCode(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Model(&models.ReferralCode{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
	return storageErr("referral_codes.deactivate", "referral code", err)
}

// ListByReferrerID returns the referrals attributed to the given user, newest first.
func (r *ReferralRepository) ListByReferrerID(ctx context.Context, referrerID uint, limit, offset int) ([]models.Referral, error) {
	var list []models.Referral
	err := r.db.WithContext(ctx).Where("referrer_id = ?", referrerID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, storageErr("referrals.list", "referrals", err)
}
