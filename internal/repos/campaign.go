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

type CampaignRepo interface {
	Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Campaign, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error)
	ListActiveAutoOptimize(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type campaignRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
	return &campaignRepo{db: db, log: baseLog.With("repo", "CampaignRepo")}
}

func (r *campaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

func (r *campaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var campaign types.Campaign
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Campaign
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *campaignRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Campaign
	if err := transaction.WithContext(ctx).
		Where("status = ?", types.CampaignStatusActive).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *campaignRepo) ListActiveAutoOptimize(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Campaign
	if err := transaction.WithContext(ctx).
		Where("status = ? AND auto_optimize = ?", types.CampaignStatusActive, true).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *campaignRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}
