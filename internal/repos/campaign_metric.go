package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// VariantTotals is an aggregate over the actual-metrics ledger for one
// variant within a lookback window.
type VariantTotals struct {
	VariantID   uuid.UUID `gorm:"column:variant_id"`
	Impressions int64     `gorm:"column:impressions"`
	Clicks      int64     `gorm:"column:clicks"`
	Conversions int64     `gorm:"column:conversions"`
	SpendCents  int64     `gorm:"column:spend_cents"`
}

type CampaignMetricRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, metrics []*types.CampaignMetric) ([]*types.CampaignMetric, error)
	SumActualByVariant(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, since time.Time) ([]VariantTotals, error)
	SumActualSpendForUserMonth(ctx context.Context, tx *gorm.DB, userID uuid.UUID, monthStart time.Time) (int64, error)
	ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, source string) ([]*types.CampaignMetric, error)
}

type campaignMetricRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignMetricRepo(db *gorm.DB, baseLog *logger.Logger) CampaignMetricRepo {
	return &campaignMetricRepo{db: db, log: baseLog.With("repo", "CampaignMetricRepo")}
}

func (r *campaignMetricRepo) CreateBatch(ctx context.Context, tx *gorm.DB, metrics []*types.CampaignMetric) ([]*types.CampaignMetric, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(metrics) == 0 {
		return []*types.CampaignMetric{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}

func (r *campaignMetricRepo) SumActualByVariant(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, since time.Time) ([]VariantTotals, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []VariantTotals
	err := transaction.WithContext(ctx).
		Model(&types.CampaignMetric{}).
		Select("variant_id, SUM(impressions) AS impressions, SUM(clicks) AS clicks, SUM(conversions) AS conversions, SUM(spend_cents) AS spend_cents").
		Where("campaign_id = ? AND source = ? AND date >= ?", campaignID, types.MetricSourceActual, since).
		Group("variant_id").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SumActualSpendForUserMonth totals a user's real spend since the start of the
// current month, across all their campaigns. Used by the monthly spend cap.
func (r *campaignMetricRepo) SumActualSpendForUserMonth(ctx context.Context, tx *gorm.DB, userID uuid.UUID, monthStart time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	err := transaction.WithContext(ctx).
		Model(&types.CampaignMetric{}).
		Select("COALESCE(SUM(campaign_metric.spend_cents), 0)").
		Joins("JOIN campaign ON campaign.id = campaign_metric.campaign_id").
		Where("campaign.user_id = ? AND campaign_metric.source = ? AND campaign_metric.date >= ?", userID, types.MetricSourceActual, monthStart).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *campaignMetricRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, source string) ([]*types.CampaignMetric, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CampaignMetric
	q := transaction.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if err := q.Order("date ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
