package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// GroupTotals aggregates the actual ledger for one test group over the
// lookback window.
type GroupTotals struct {
	Group       string  `json:"group"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	SpendCents  int64   `json:"spend_cents"`
	CostPerLead float64 `json:"cost_per_lead"`
}

type OptimizationResult struct {
	CampaignID  uuid.UUID     `json:"campaign_id"`
	Applied     bool          `json:"applied"`
	WinnerGroup string        `json:"winner_group,omitempty"`
	Paused      int           `json:"paused"`
	Scaled      int           `json:"scaled"`
	Groups      []GroupTotals `json:"groups,omitempty"`
}

type OptimizerService interface {
	// OptimizeCampaign decides the campaign's test once. lookbackHours
	// overrides the configured window when positive.
	OptimizeCampaign(ctx context.Context, campaignID uuid.UUID, lookbackHours int) (*OptimizationResult, error)
	SweepActive(ctx context.Context, lookbackHours int) error
}

type optimizerService struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       config.Optimizer
	campaigns repos.CampaignRepo
	variants  repos.AdVariantRepo
	metrics   repos.CampaignMetricRepo
	logs      repos.OptimizationLogRepo
	registry  *adplatform.Registry
	now       func() time.Time

	// inFlight is the single-flight guard: one optimization per campaign at
	// a time, in this process. Distributed locking is out of scope.
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewOptimizerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Optimizer,
	campaigns repos.CampaignRepo,
	variants repos.AdVariantRepo,
	metrics repos.CampaignMetricRepo,
	logs repos.OptimizationLogRepo,
	registry *adplatform.Registry,
) OptimizerService {
	return &optimizerService{
		db:        db,
		log:       baseLog.With("service", "OptimizerService"),
		cfg:       cfg,
		campaigns: campaigns,
		variants:  variants,
		metrics:   metrics,
		logs:      logs,
		registry:  registry,
		now:       time.Now,
		inFlight:  map[uuid.UUID]struct{}{},
	}
}

func (s *optimizerService) acquire(campaignID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[campaignID]; busy {
		return false
	}
	s.inFlight[campaignID] = struct{}{}
	return true
}

func (s *optimizerService) release(campaignID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, campaignID)
}

// OptimizeCampaign compares test groups on cost per lead over the lookback
// window, pauses every losing group's variants and scales the winner's budget
// by the configured multiplier. Each action lands in the optimization log,
// and an existing log short-circuits the whole run: the decision is made
// once, so the hourly sweep cannot compound the winner's budget.
// A campaign without auto-optimize is a logged no-op.
func (s *optimizerService) OptimizeCampaign(ctx context.Context, campaignID uuid.UUID, lookbackHours int) (*OptimizationResult, error) {
	if !s.acquire(campaignID) {
		return nil, &ConcurrencyConflictError{CampaignID: campaignID.String()}
	}
	defer s.release(campaignID)

	campaign, err := s.campaigns.GetByID(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrNotFound
	}
	result := &OptimizationResult{CampaignID: campaignID}
	if !campaign.AutoOptimize {
		s.log.Info("Campaign has auto-optimize off, skipping", "campaign_id", campaignID)
		return result, nil
	}
	if campaign.Status != types.CampaignStatusActive {
		return nil, &InvalidStateError{Current: campaign.Status, Wanted: types.CampaignStatusActive}
	}

	prior, err := s.logs.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		result.WinnerGroup = prior[len(prior)-1].WinnerGroup
		s.log.Info("Campaign already optimized, skipping",
			"campaign_id", campaignID, "winner_group", result.WinnerGroup)
		return result, nil
	}

	lookback := s.cfg.LookbackHours
	if lookbackHours > 0 {
		lookback = lookbackHours
	}
	since := s.now().Add(-time.Duration(lookback) * time.Hour)
	totals, err := s.metrics.SumActualByVariant(ctx, nil, campaignID, since)
	if err != nil {
		return nil, err
	}
	variants, err := s.variants.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}

	groups := groupPerformance(variants, totals)
	result.Groups = groups
	if len(groups) < 2 {
		s.log.Info("Not enough measured groups to optimize", "campaign_id", campaignID, "groups", len(groups))
		return result, nil
	}

	// Lowest cost per lead wins; strict less-than keeps the first-created
	// group on ties.
	winner := groups[0]
	for _, g := range groups[1:] {
		if g.CostPerLead < winner.CostPerLead {
			winner = g
		}
	}
	result.WinnerGroup = winner.Group
	result.Applied = true

	totalsByGroup := make(map[string]GroupTotals, len(groups))
	for _, g := range groups {
		totalsByGroup[g.Group] = g
	}

	var entries []*types.OptimizationLog
	for _, v := range variants {
		g, measured := totalsByGroup[v.TestGroup]
		if !measured {
			g = GroupTotals{Group: v.TestGroup}
		}
		snapshot, _ := json.Marshal(g)
		if v.TestGroup == winner.Group {
			if v.Status != types.VariantStatusActive {
				continue
			}
			if sErr := s.scaleVariant(ctx, v); sErr != nil {
				s.log.Error("Failed to scale winner variant", "variant_id", v.ID, "error", sErr)
				continue
			}
			result.Scaled++
			entries = append(entries, s.logEntry(campaignID, v, types.OptimizationActionScale, g, winner.Group, snapshot))
		} else {
			// Losing groups are paused whether the variant is live or still
			// pending; a pending loser left alone would be published on its
			// rollout day after the test is already decided. Unmeasured
			// groups lose by default.
			if v.Status != types.VariantStatusActive && v.Status != types.VariantStatusPending {
				continue
			}
			if pErr := s.pauseVariant(ctx, v); pErr != nil {
				s.log.Error("Failed to pause losing variant", "variant_id", v.ID, "error", pErr)
				continue
			}
			result.Paused++
			entries = append(entries, s.logEntry(campaignID, v, types.OptimizationActionPause, g, winner.Group, snapshot))
		}
	}

	if _, err := s.logs.Create(ctx, nil, entries); err != nil {
		s.log.Error("Failed to write optimization log", "campaign_id", campaignID, "error", err)
	}
	s.log.Info("Optimized campaign", "campaign_id", campaignID,
		"winner_group", winner.Group, "paused", result.Paused, "scaled", result.Scaled)
	return result, nil
}

// groupPerformance folds per-variant totals into per-group totals, keeping
// groups in variant insertion order. Groups with no actual rows are excluded:
// a group that never ran cannot win on a zero cost per lead.
func groupPerformance(variants []*types.AdVariant, totals []repos.VariantTotals) []GroupTotals {
	byVariant := make(map[uuid.UUID]repos.VariantTotals, len(totals))
	for _, t := range totals {
		byVariant[t.VariantID] = t
	}

	agg := map[string]*GroupTotals{}
	var order []string
	for _, v := range variants {
		t, ok := byVariant[v.ID]
		if !ok {
			continue
		}
		g, seen := agg[v.TestGroup]
		if !seen {
			g = &GroupTotals{Group: v.TestGroup}
			agg[v.TestGroup] = g
			order = append(order, v.TestGroup)
		}
		g.Impressions += t.Impressions
		g.Clicks += t.Clicks
		g.Conversions += t.Conversions
		g.SpendCents += t.SpendCents
	}

	out := make([]GroupTotals, 0, len(order))
	for _, name := range order {
		g := agg[name]
		g.CostPerLead = float64(g.SpendCents) / 100 / float64(maxInt64(1, g.Conversions))
		out = append(out, *g)
	}
	return out
}

func (s *optimizerService) adapterFor(v *types.AdVariant) (adplatform.Adapter, bool) {
	if v.ExternalID == nil {
		return nil, false
	}
	adapter, err := s.registry.Get(v.Platform)
	if err != nil {
		s.log.Warn("No adapter for platform", "platform", v.Platform, "variant_id", v.ID)
		return nil, false
	}
	return adapter, true
}

func (s *optimizerService) pauseVariant(ctx context.Context, v *types.AdVariant) error {
	if adapter, ok := s.adapterFor(v); ok {
		if err := adapter.PauseCampaign(ctx, *v.ExternalID); err != nil {
			return err
		}
	}
	return s.variants.UpdateFields(ctx, nil, v.ID, map[string]interface{}{
		"status": types.VariantStatusPaused,
	})
}

func (s *optimizerService) scaleVariant(ctx context.Context, v *types.AdVariant) error {
	newBudget := int64(float64(v.BudgetCents) * s.cfg.WinnerScaleMultiplier)
	if adapter, ok := s.adapterFor(v); ok {
		if err := adapter.UpdateCampaign(ctx, *v.ExternalID, adplatform.CampaignUpdate{
			BudgetCents: &newBudget,
		}); err != nil {
			return err
		}
	}
	return s.variants.UpdateFields(ctx, nil, v.ID, map[string]interface{}{
		"budget_cents": newBudget,
	})
}

func (s *optimizerService) logEntry(campaignID uuid.UUID, v *types.AdVariant, action string, g GroupTotals, winnerGroup string, snapshot []byte) *types.OptimizationLog {
	return &types.OptimizationLog{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		VariantID:   v.ID,
		TestGroup:   v.TestGroup,
		Action:      action,
		CostPerLead: g.CostPerLead,
		WinnerGroup: winnerGroup,
		Metrics:     datatypes.JSON(snapshot),
		CreatedAt:   s.now(),
	}
}

// SweepActive optimizes every active auto-optimize campaign; one campaign's
// failure never blocks the rest.
func (s *optimizerService) SweepActive(ctx context.Context, lookbackHours int) error {
	campaigns, err := s.campaigns.ListActiveAutoOptimize(ctx, nil)
	if err != nil {
		return err
	}
	for _, campaign := range campaigns {
		if _, oErr := s.OptimizeCampaign(ctx, campaign.ID, lookbackHours); oErr != nil {
			s.log.Error("Sweep optimization failed", "campaign_id", campaign.ID, "error", oErr)
		}
	}
	return nil
}
