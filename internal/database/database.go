package database

import (
	"io"
	"log"
	"os"
	"time"

	"referpay/config"
	"referpay/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), GormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// GormConfig is shared by every dialector. TranslateError surfaces unique
// violations as gorm.ErrDuplicatedKey, which the ledger relies on.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         newGormLogger(os.Stdout),
		TranslateError: true,
	}
}

// newGormLogger only logs errors, not every SQL query. Missing rows are an
// expected lookup result in the ledger and stay quiet.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Error,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.Payout{},
		&models.SystemSetting{},
		&models.AuditLog{},
	)
}
