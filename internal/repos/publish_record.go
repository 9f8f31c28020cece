package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type PublishRecordRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, record *types.PublishRecord) error
	ListByUnit(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) ([]*types.PublishRecord, error)
}

type publishRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPublishRecordRepo(db *gorm.DB, baseLog *logger.Logger) PublishRecordRepo {
	return &publishRecordRepo{db: db, log: baseLog.With("repo", "PublishRecordRepo")}
}

// Upsert keys on (unit_id, platform) so a retried publish job overwrites the
// outcome for a platform instead of inserting a duplicate row.
func (r *publishRecordRepo) Upsert(ctx context.Context, tx *gorm.DB, record *types.PublishRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	record.UpdatedAt = time.Now()
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unit_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{"external_id", "status", "diagnostics", "updated_at"}),
		}).
		Create(record).Error
}

func (r *publishRecordRepo) ListByUnit(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) ([]*types.PublishRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PublishRecord
	if err := transaction.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("platform ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
