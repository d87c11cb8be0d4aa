package repository

import (
	"context"
	"fmt"

	"referpay/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return storageErr("users.create", "user", r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, storageErr("users.get", fmt.Sprintf("user %d", id), err)
	}
	return &u, nil
}

// SetPayoutAccount links the user's connected payments-platform account.
func (r *UserRepository) SetPayoutAccount(ctx context.Context, id uint, accountID string) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("stripe_account_id", accountID).Error
	return storageErr("users.set_payout_account", fmt.Sprintf("user %d", id), err)
}
