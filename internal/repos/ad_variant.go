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

type AdVariantRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, variants []*types.AdVariant) ([]*types.AdVariant, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AdVariant, error)
	ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.AdVariant, error)
	ListByCampaignAndStatus(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, status string) ([]*types.AdVariant, error)
	ListDueForRollout(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, maxRolloutDay int) ([]*types.AdVariant, error)
	SetExternalID(ctx context.Context, tx *gorm.DB, id uuid.UUID, externalID string) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type adVariantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAdVariantRepo(db *gorm.DB, baseLog *logger.Logger) AdVariantRepo {
	return &adVariantRepo{db: db, log: baseLog.With("repo", "AdVariantRepo")}
}

func (r *adVariantRepo) CreateBatch(ctx context.Context, tx *gorm.DB, variants []*types.AdVariant) ([]*types.AdVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(variants) == 0 {
		return []*types.AdVariant{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&variants).Error; err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *adVariantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AdVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var variant types.AdVariant
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// ListByCampaign returns variants in insertion order; the optimizer's
// tie-break depends on this ordering.
func (r *adVariantRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.AdVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AdVariant
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *adVariantRepo) ListByCampaignAndStatus(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, status string) ([]*types.AdVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AdVariant
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, status).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *adVariantRepo) ListDueForRollout(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, maxRolloutDay int) ([]*types.AdVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AdVariant
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND rollout_day <= ?", campaignID, types.VariantStatusPending, maxRolloutDay).
		Order("rollout_day ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetExternalID assigns the platform id exactly once. The WHERE clause
// guards against rewriting an id that is already set.
func (r *adVariantRepo) SetExternalID(ctx context.Context, tx *gorm.DB, id uuid.UUID, externalID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.AdVariant{}).
		Where("id = ? AND external_id IS NULL", id).
		Updates(map[string]interface{}{
			"external_id": externalID,
			"updated_at":  time.Now(),
		}).Error
}

func (r *adVariantRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.AdVariant{}).
		Where("id = ?", id).
		Updates(updates).Error
}
