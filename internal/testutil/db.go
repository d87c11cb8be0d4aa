// Package testutil provides sqlite-backed fixtures shared by package tests.
package testutil

import (
	"testing"

	"referpay/internal/database"
	"referpay/internal/domain"
	"referpay/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// A single connection serialises access, which keeps concurrent tests free
// of SQLITE_BUSY while still exercising the ledger's conditional updates.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateUser inserts a user; account may be "" for no connected payout account.
func CreateUser(t *testing.T, db *gorm.DB, email, account string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: email, Role: domain.RoleUser}
	if account != "" {
		u.StripeAccountID = &account
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateCode inserts an active referral code for the user.
func CreateCode(t *testing.T, db *gorm.DB, userID uint, code string) *models.ReferralCode {
	t.Helper()
	rc := &models.ReferralCode{UserID: userID, Code: code, IsActive: true}
	if err := db.Create(rc).Error; err != nil {
		t.Fatalf("create code: %v", err)
	}
	return rc
}
