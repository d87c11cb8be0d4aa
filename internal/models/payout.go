package models

import (
	"time"

	"referpay/internal/domain"
)

// Payout is one cash-transfer attempt for a referral. A failed payout is never
// reused; a retry creates the next attempt.
type Payout struct {
	ID                  uint                `gorm:"primaryKey" json:"id"`
	ReferralID          uint                `gorm:"not null;index:idx_payout_referral_attempt,unique" json:"referral_id"`
	Attempt             int                 `gorm:"not null;index:idx_payout_referral_attempt,unique" json:"attempt"`
	UserID              uint                `gorm:"not null;index" json:"user_id"`
	AmountCents         int64               `gorm:"not null" json:"amount_cents"`
	Currency            string              `gorm:"size:3;not null" json:"currency"`
	Status              domain.PayoutStatus `gorm:"size:20;not null;index" json:"status"`
	IdempotencyKey      string              `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExternalTransferRef *string             `gorm:"size:128;uniqueIndex" json:"external_transfer_ref"`
	DispatchAttemptedAt *time.Time          `json:"dispatch_attempted_at"`
	FailureReason       *string             `gorm:"type:text" json:"failure_reason"`
	CompletedAt         *time.Time          `json:"completed_at"`
	FailedAt            *time.Time          `json:"failed_at"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`

	Referral Referral `gorm:"foreignKey:ReferralID" json:"-"`
}

func (Payout) TableName() string { return "payouts" }

func (p *Payout) TransferRef() string {
	if p.ExternalTransferRef == nil {
		return ""
	}
	return *p.ExternalTransferRef
}
