package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// MetricsSyncService polls the platforms for real performance numbers and
// appends them to the actual-metrics ledger. Platform status reports are
// cumulative, so each poll writes the delta since everything already recorded
// for the variant — the ledger itself stays insert-only.
type MetricsSyncService interface {
	SyncCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	SweepActive(ctx context.Context) error
}

type metricsSyncService struct {
	db        *gorm.DB
	log       *logger.Logger
	campaigns repos.CampaignRepo
	variants  repos.AdVariantRepo
	metrics   repos.CampaignMetricRepo
	registry  *adplatform.Registry
	now       func() time.Time
}

func NewMetricsSyncService(
	db *gorm.DB,
	baseLog *logger.Logger,
	campaigns repos.CampaignRepo,
	variants repos.AdVariantRepo,
	metrics repos.CampaignMetricRepo,
	registry *adplatform.Registry,
) MetricsSyncService {
	return &metricsSyncService{
		db:        db,
		log:       baseLog.With("service", "MetricsSyncService"),
		campaigns: campaigns,
		variants:  variants,
		metrics:   metrics,
		registry:  registry,
		now:       time.Now,
	}
}

// SyncCampaign polls every active variant of the campaign and returns the
// number of ledger rows appended. One variant's polling failure never blocks
// the rest.
func (s *metricsSyncService) SyncCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	campaign, err := s.campaigns.GetByID(ctx, nil, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign == nil {
		return 0, ErrNotFound
	}
	active, err := s.variants.ListByCampaignAndStatus(ctx, nil, campaignID, types.VariantStatusActive)
	if err != nil {
		return 0, err
	}

	recorded, err := s.metrics.SumActualByVariant(ctx, nil, campaignID, time.Time{})
	if err != nil {
		return 0, err
	}
	prior := make(map[uuid.UUID]repos.VariantTotals, len(recorded))
	for _, t := range recorded {
		prior[t.VariantID] = t
	}

	appended := 0
	var rows []*types.CampaignMetric
	for _, v := range active {
		if v.ExternalID == nil {
			continue
		}
		adapter, aErr := s.registry.Get(v.Platform)
		if aErr != nil {
			s.log.Warn("No adapter for platform", "platform", v.Platform, "variant_id", v.ID)
			continue
		}
		status, gErr := adapter.GetCampaignStatus(ctx, *v.ExternalID)
		if gErr != nil {
			s.log.Warn("Status poll failed", "variant_id", v.ID, "platform", v.Platform, "error", gErr)
			continue
		}
		row := s.deltaRow(campaignID, v, status, prior[v.ID])
		if row == nil {
			continue
		}
		rows = append(rows, row)
		appended++
	}

	if _, err := s.metrics.CreateBatch(ctx, nil, rows); err != nil {
		return 0, err
	}
	return appended, nil
}

// deltaRow converts a cumulative platform report into one insert-only ledger
// row. Nothing new since the last poll means no row. Platform counters that
// moved backwards clamp to zero rather than writing negative deltas.
func (s *metricsSyncService) deltaRow(campaignID uuid.UUID, v *types.AdVariant, status *adplatform.CampaignStatus, prior repos.VariantTotals) *types.CampaignMetric {
	impressions := clampDelta(status.Impressions, prior.Impressions)
	clicks := clampDelta(status.Clicks, prior.Clicks)
	conversions := clampDelta(status.Conversions, prior.Conversions)
	spend := clampDelta(status.BudgetSpentCents, prior.SpendCents)
	if impressions == 0 && clicks == 0 && conversions == 0 && spend == 0 {
		return nil
	}

	now := s.now()
	row := &types.CampaignMetric{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		VariantID:   v.ID,
		Platform:    v.Platform,
		Date:        time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Source:      types.MetricSourceActual,
		Impressions: impressions,
		Clicks:      clicks,
		Conversions: conversions,
		SpendCents:  spend,
		CostPerLead: float64(spend) / 100 / float64(maxInt64(1, conversions)),
		CreatedAt:   now,
	}
	if impressions > 0 {
		row.CTR = float64(clicks) / float64(impressions)
		row.CPM = float64(spend) / 100 / float64(impressions) * 1000
	}
	if clicks > 0 {
		row.CPC = float64(spend) / 100 / float64(clicks)
	}
	return row
}

func clampDelta(current, prior int64) int64 {
	if current <= prior {
		return 0
	}
	return current - prior
}

// SweepActive polls every active campaign; failures are independent.
func (s *metricsSyncService) SweepActive(ctx context.Context) error {
	active, err := s.campaigns.ListActive(ctx, nil)
	if err != nil {
		return err
	}
	for _, campaign := range active {
		if _, sErr := s.SyncCampaign(ctx, campaign.ID); sErr != nil {
			s.log.Error("Metrics sync failed", "campaign_id", campaign.ID, "error", sErr)
		}
	}
	return nil
}
