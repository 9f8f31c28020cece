package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type SyncRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, record *types.SyncRecord) (*types.SyncRecord, error)
	GetSyncedByExternalID(ctx context.Context, tx *gorm.DB, externalContactID string) (*types.SyncRecord, error)
	GetByEntity(ctx context.Context, tx *gorm.DB, entityID uuid.UUID, syncType string) (*types.SyncRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type syncRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSyncRecordRepo(db *gorm.DB, baseLog *logger.Logger) SyncRecordRepo {
	return &syncRecordRepo{db: db, log: baseLog.With("repo", "SyncRecordRepo")}
}

func (r *syncRecordRepo) Create(ctx context.Context, tx *gorm.DB, record *types.SyncRecord) (*types.SyncRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *syncRecordRepo) GetSyncedByExternalID(ctx context.Context, tx *gorm.DB, externalContactID string) (*types.SyncRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if externalContactID == "" {
		return nil, nil
	}
	var record types.SyncRecord
	err := transaction.WithContext(ctx).
		Where("external_contact_id = ? AND status = ?", externalContactID, types.SyncStatusSynced).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *syncRecordRepo) GetByEntity(ctx context.Context, tx *gorm.DB, entityID uuid.UUID, syncType string) (*types.SyncRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var record types.SyncRecord
	err := transaction.WithContext(ctx).
		Where("entity_id = ? AND sync_type = ?", entityID, syncType).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *syncRecordRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.SyncRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
