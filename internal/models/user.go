package models

import (
	"time"

	"referpay/internal/domain"

	"gorm.io/gorm"
)

// User is owned by the auth boundary; the payout core only reads the
// connected payout account.
type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Email           string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name            string         `gorm:"size:128" json:"name"`
	Role            string         `gorm:"size:20;not null;default:'USER';index" json:"role"` // USER | ADMIN
	StripeAccountID *string        `gorm:"size:64" json:"-"`                                  // connected account receiving referral payouts
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }

// PayoutAccount returns the connected account id, or "" when none is linked.
func (u *User) PayoutAccount() string {
	if u.StripeAccountID == nil {
		return ""
	}
	return *u.StripeAccountID
}
