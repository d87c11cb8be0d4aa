package repository

import (
	"context"
	"encoding/json"

	"referpay/internal/models"

	"gorm.io/gorm"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	return storageErr("audit_logs.create", "audit log", r.db.WithContext(ctx).Create(log).Error)
}

// Record appends an audit row with metadata serialized as JSON.
func (r *AuditLogRepository) Record(ctx context.Context, userID uint, action, resource, resourceID string, meta map[string]interface{}) error {
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		entry.Metadata = string(b)
	}
	return r.Create(ctx, entry)
}

func (r *AuditLogRepository) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	var list []models.AuditLog
	err := r.db.WithContext(ctx).Where("resource = ? AND resource_id = ?", resource, resourceID).
		Order("id ASC").Find(&list).Error
	return list, storageErr("audit_logs.list", "audit logs", err)
}
