package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type PendingReviewRepo interface {
	Create(ctx context.Context, tx *gorm.DB, record *types.PendingReview) (*types.PendingReview, error)
	ListUnreviewed(ctx context.Context, tx *gorm.DB, limit int) ([]*types.PendingReview, error)
}

type pendingReviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPendingReviewRepo(db *gorm.DB, baseLog *logger.Logger) PendingReviewRepo {
	return &pendingReviewRepo{db: db, log: baseLog.With("repo", "PendingReviewRepo")}
}

func (r *pendingReviewRepo) Create(ctx context.Context, tx *gorm.DB, record *types.PendingReview) (*types.PendingReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *pendingReviewRepo) ListUnreviewed(ctx context.Context, tx *gorm.DB, limit int) ([]*types.PendingReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.PendingReview
	if err := transaction.WithContext(ctx).
		Where("reviewed = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
