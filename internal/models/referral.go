package models

import (
	"time"

	"referpay/internal/domain"
)

// ReferralCode is the shareable code belonging to a user. Codes are never
// deleted, only deactivated.
type ReferralCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Code      string    `gorm:"uniqueIndex;size:20;not null" json:"code"` // stored upper-case
	IsActive  bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

// Referral is one attributed referral attempt, linked to an external job once
// the referred party books. At most one referral maps to an external job ref.
type Referral struct {
	ID                uint                  `gorm:"primaryKey" json:"id"`
	ReferrerID        uint                  `gorm:"not null;index" json:"referrer_id"`
	ReferralCode      string                `gorm:"size:20;not null;index" json:"referral_code"`
	ReferredContact   string                `gorm:"size:255;index" json:"referred_contact"`
	ExternalJobRef    *string               `gorm:"size:128;uniqueIndex" json:"external_job_ref"`
	JobTotalCents     *int64                `json:"job_total_cents"`
	RewardCents       *int64                `json:"reward_cents"`
	Status            domain.ReferralStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	LastEventStatus   string                `gorm:"size:20" json:"-"` // last applied normalized job status
	PayoutAttempts    int                   `gorm:"not null;default:0" json:"payout_attempts"`
	RewardTriggeredAt *time.Time            `json:"reward_triggered_at"`
	JobCompletedAt    *time.Time            `json:"job_completed_at"`
	CancelledAt       *time.Time            `json:"cancelled_at"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`

	Referrer User `gorm:"foreignKey:ReferrerID" json:"-"`
}

func (Referral) TableName() string { return "referrals" }

// JobRef returns the linked external job reference or "".
func (r *Referral) JobRef() string {
	if r.ExternalJobRef == nil {
		return ""
	}
	return *r.ExternalJobRef
}

// Reward returns the computed reward in minor units, 0 when not computed.
func (r *Referral) Reward() int64 {
	if r.RewardCents == nil {
		return 0
	}
	return *r.RewardCents
}
