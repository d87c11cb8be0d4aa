package repository

import (
	"context"
	"errors"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) Get(ctx context.Context, key string) (string, error) {
	var s models.SystemSetting
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&s).Error; err != nil {
		return "", storageErr("settings.get", "setting "+key, err)
	}
	return s.Value, nil
}

// GetInt64 returns the setting parsed as an integer, or fallback when the
// setting is missing or malformed. Storage failures are returned, never
// masked by the fallback.
func (r *SettingRepository) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	val, err := r.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

func (r *SettingRepository) Set(ctx context.Context, key, value string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error
	return storageErr("settings.set", "setting "+key, err)
}

func (r *SettingRepository) GetAll(ctx context.Context) ([]models.SystemSetting, error) {
	var list []models.SystemSetting
	err := r.db.WithContext(ctx).Order("`key` ASC").Find(&list).Error
	return list, storageErr("settings.list", "settings", err)
}
