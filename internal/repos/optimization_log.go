package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type OptimizationLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entries []*types.OptimizationLog) ([]*types.OptimizationLog, error)
	ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.OptimizationLog, error)
}

type optimizationLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOptimizationLogRepo(db *gorm.DB, baseLog *logger.Logger) OptimizationLogRepo {
	return &optimizationLogRepo{db: db, log: baseLog.With("repo", "OptimizationLogRepo")}
}

func (r *optimizationLogRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.OptimizationLog) ([]*types.OptimizationLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return []*types.OptimizationLog{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *optimizationLogRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.OptimizationLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.OptimizationLog
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
