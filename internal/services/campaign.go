package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
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

const expectedMetricDays = 30

// assumedLeadValueCents backs the seeded return-on-spend projection. Real
// revenue attribution is out of scope; actual rows carry whatever the
// platform reports.
const assumedLeadValueCents = 5000

// VariantPerformance pairs a variant with its aggregated actual metrics.
type VariantPerformance struct {
	Variant     *types.AdVariant `json:"variant"`
	Impressions int64            `json:"impressions"`
	Clicks      int64            `json:"clicks"`
	Conversions int64            `json:"conversions"`
	SpendCents  int64            `json:"spend_cents"`
	CTR         float64          `json:"ctr"`
	CostPerLead float64          `json:"cost_per_lead"`
}

type CampaignDetail struct {
	Campaign *types.Campaign      `json:"campaign"`
	Variants []VariantPerformance `json:"variants"`
}

// PublishTarget is one platform's slice of a publish job. Credentials travel
// sealed and are only opened inside the worker.
type PublishTarget struct {
	Platform    string               `json:"platform"`
	Credentials string               `json:"credentials,omitempty"`
	Targeting   adplatform.Targeting `json:"targeting"`
	Options     map[string]string    `json:"options,omitempty"`
}

type PublishPayload struct {
	UnitID      uuid.UUID       `json:"unit_id"`
	CampaignID  uuid.UUID       `json:"campaign_id"`
	Title       string          `json:"title"`
	CreativeKey string          `json:"creative_key"`
	Caption     string          `json:"caption,omitempty"`
	BudgetCents int64           `json:"budget_cents"`
	Platforms   []PublishTarget `json:"platforms"`
}

type CampaignService interface {
	CreateCampaign(ctx context.Context, userID uuid.UUID, req CreateCampaignRequest) (*CampaignDetail, error)
	LaunchCampaign(ctx context.Context, userID, campaignID uuid.UUID, creds map[string]adplatform.Credentials) (*types.Campaign, error)
	RolloutDue(ctx context.Context) (int, error)
	ListCampaigns(ctx context.Context, userID uuid.UUID) ([]*types.Campaign, error)
	GetCampaign(ctx context.Context, userID, campaignID uuid.UUID) (*CampaignDetail, error)
	CancelCampaign(ctx context.Context, userID, campaignID uuid.UUID) (*types.Campaign, error)
	GenerateBudgetRecommendation(ctx context.Context, userID uuid.UUID, requestedCents int64, platforms []string) (*BudgetRecommendation, error)
}

type campaignService struct {
	db         *gorm.DB
	log        *logger.Logger
	limits     config.Limits
	users      repos.UserRepo
	campaigns  repos.CampaignRepo
	variants   repos.AdVariantRepo
	metrics    repos.CampaignMetricRepo
	gen        GenerationService
	jobs       JobService
	creds      CredentialService
	registry   *adplatform.Registry
	benchmarks map[string]PlatformBenchmark

	// seed derives the jitter source for expected-metric rows; swapped in
	// tests for a fixed value.
	seed func(label string, day int) int64
	now  func() time.Time
}

func NewCampaignService(
	db *gorm.DB,
	baseLog *logger.Logger,
	limits config.Limits,
	users repos.UserRepo,
	campaigns repos.CampaignRepo,
	variants repos.AdVariantRepo,
	metrics repos.CampaignMetricRepo,
	gen GenerationService,
	jobs JobService,
	creds CredentialService,
	registry *adplatform.Registry,
) CampaignService {
	return &campaignService{
		db:         db,
		log:        baseLog.With("service", "CampaignService"),
		limits:     limits,
		users:      users,
		campaigns:  campaigns,
		variants:   variants,
		metrics:    metrics,
		gen:        gen,
		jobs:       jobs,
		creds:      creds,
		registry:   registry,
		benchmarks: loadBenchmarks(),
		seed:       stableSeed,
		now:        time.Now,
	}
}

var knownPlatforms = map[string]bool{
	adplatform.PlatformMeta:   true,
	adplatform.PlatformTikTok: true,
	adplatform.PlatformGoogle: true,
	adplatform.PlatformMock:   true,
}

func (s *campaignService) validateCreate(user *types.User, req *CreateCampaignRequest) error {
	if req.Objective == "" {
		return validationErr("objective_required", "campaign objective is required")
	}
	if len(req.Platforms) == 0 {
		return validationErr("platforms_required", "at least one platform is required")
	}
	for _, p := range req.Platforms {
		if !knownPlatforms[p] {
			return validationErr("unknown_platform", "unknown platform %q", p)
		}
	}
	if req.BudgetTotalCents <= 0 {
		return validationErr("budget_not_positive", "budget must be positive, got %d cents", req.BudgetTotalCents)
	}
	if req.TestGroups < 1 {
		req.TestGroups = 2
	}
	if req.TestGroups > len(groupLetters) {
		return validationErr("test_groups_range", "at most %d test groups supported, got %d", len(groupLetters), req.TestGroups)
	}
	if req.TestDurationDays < 1 {
		req.TestDurationDays = 7
	}

	switch user.Tier {
	case types.TierFree:
		if req.BudgetTotalCents > s.limits.FreeBudgetCeilingCents {
			return validationErr("free_tier_budget_ceiling",
				"free tier campaigns are capped at %d cents, got %d", s.limits.FreeBudgetCeilingCents, req.BudgetTotalCents)
		}
		if len(req.Platforms) > 1 {
			return validationErr("free_tier_single_platform",
				"free tier campaigns may target a single platform, got %d", len(req.Platforms))
		}
	case types.TierStarter:
		if req.BudgetTotalCents > s.limits.StarterBudgetCeilingCents {
			return validationErr("tier_budget_ceiling",
				"starter tier campaigns are capped at %d cents, got %d", s.limits.StarterBudgetCeilingCents, req.BudgetTotalCents)
		}
	default:
		if req.BudgetTotalCents > s.limits.ProBudgetCeilingCents {
			return validationErr("tier_budget_ceiling",
				"campaigns are capped at %d cents, got %d", s.limits.ProBudgetCeilingCents, req.BudgetTotalCents)
		}
	}
	return nil
}

func (s *campaignService) CreateCampaign(ctx context.Context, userID uuid.UUID, req CreateCampaignRequest) (*CampaignDetail, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if err := s.validateCreate(user, &req); err != nil {
		return nil, err
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	spent, err := s.metrics.SumActualSpendForUserMonth(ctx, nil, userID, monthStart)
	if err != nil {
		return nil, err
	}
	if spent+req.BudgetTotalCents > s.limits.MonthlySpendCapCents {
		return nil, validationErr("monthly_spend_cap",
			"monthly spend cap of %d cents would be exceeded (%d spent, %d requested)",
			s.limits.MonthlySpendCapCents, spent, req.BudgetTotalCents)
	}

	plan := s.planCampaign(ctx, userID, req)

	platformsJSON, err := json.Marshal(req.Platforms)
	if err != nil {
		return nil, err
	}
	audienceJSON, err := json.Marshal(req.Audience)
	if err != nil {
		return nil, err
	}

	campaign := &types.Campaign{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             plan.Name,
		Objective:        req.Objective,
		BudgetTotalCents: req.BudgetTotalCents,
		Platforms:        datatypes.JSON(platformsJSON),
		Audience:         datatypes.JSON(audienceJSON),
		Status:           types.CampaignStatusDraft,
		TestGroups:       req.TestGroups,
		TestDurationDays: req.TestDurationDays,
		AutoOptimize:     req.AutoOptimize,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	variants := make([]*types.AdVariant, 0, len(plan.Variants))
	for i, vp := range plan.Variants {
		targetingJSON, mErr := json.Marshal(vp.Targeting)
		if mErr != nil {
			return nil, mErr
		}
		variants = append(variants, &types.AdVariant{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			Label:       vp.Label,
			CreativeKey: vp.CreativeKey,
			Platform:    vp.Platform,
			BudgetCents: vp.BudgetCents,
			Targeting:   datatypes.JSON(targetingJSON),
			TestGroup:   vp.TestGroup,
			RolloutDay:  vp.RolloutDay,
			Status:      types.VariantStatusPending,
			// Creation order is the tie-break contract; keep it strictly
			// increasing even within one batch.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
	}

	expected := s.seedExpectedMetrics(campaign, variants)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, txErr := s.campaigns.Create(ctx, tx, campaign); txErr != nil {
			return txErr
		}
		if _, txErr := s.variants.CreateBatch(ctx, tx, variants); txErr != nil {
			return txErr
		}
		_, txErr := s.metrics.CreateBatch(ctx, tx, expected)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Created campaign", "campaign_id", campaign.ID, "user_id", userID,
		"variants", len(variants), "budget_cents", req.BudgetTotalCents)

	detail := &CampaignDetail{Campaign: campaign}
	for _, v := range variants {
		detail.Variants = append(detail.Variants, VariantPerformance{Variant: v})
	}
	return detail, nil
}

// planCampaign asks the generation collaborator for a variant plan and falls
// back to the deterministic generator on any failure.
func (s *campaignService) planCampaign(ctx context.Context, userID uuid.UUID, req CreateCampaignRequest) *CampaignPlan {
	resp, err := s.gen.Generate(ctx, userID, "campaign_plan", buildPlanPrompt(req), 2000)
	if err != nil {
		s.log.Warn("Plan generation failed, using fallback plan", "user_id", userID, "error", err)
		return fallbackPlan(req)
	}
	plan, err := parsePlan(resp.Content, req)
	if err != nil {
		s.log.Warn("Generated plan unusable, using fallback plan", "user_id", userID, "error", err)
		return fallbackPlan(req)
	}
	return plan
}

// seedExpectedMetrics projects 30 days of benchmark-derived performance per
// variant so dashboards and the optimizer have a baseline before real numbers
// arrive.
func (s *campaignService) seedExpectedMetrics(campaign *types.Campaign, variants []*types.AdVariant) []*types.CampaignMetric {
	now := s.now()
	day0 := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]*types.CampaignMetric, 0, len(variants)*expectedMetricDays)
	for _, v := range variants {
		bench := benchmarkFor(s.benchmarks, v.Platform)
		rng := rand.New(rand.NewSource(s.seed(v.Label, 0)))
		dailySpend := v.BudgetCents / expectedMetricDays
		for day := 0; day < expectedMetricDays; day++ {
			impressions, clicks, conversions, ctr, cpc, cpm := expectedDailyMetrics(bench, dailySpend, rng)
			cpl := float64(dailySpend) / 100 / float64(maxInt64(1, conversions))
			roas := 0.0
			if dailySpend > 0 {
				roas = float64(conversions*assumedLeadValueCents) / float64(dailySpend)
			}
			out = append(out, &types.CampaignMetric{
				ID:            uuid.New(),
				CampaignID:    campaign.ID,
				VariantID:     v.ID,
				Platform:      v.Platform,
				Date:          day0.AddDate(0, 0, day),
				Source:        types.MetricSourceExpected,
				Impressions:   impressions,
				Clicks:        clicks,
				Conversions:   conversions,
				SpendCents:    dailySpend,
				CTR:           ctr,
				CPC:           cpc,
				CPM:           cpm,
				CostPerLead:   cpl,
				ReturnOnSpend: roas,
				CreatedAt:     now,
			})
		}
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (s *campaignService) ownedCampaign(ctx context.Context, userID, campaignID uuid.UUID) (*types.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil || campaign.UserID != userID {
		return nil, ErrNotFound
	}
	return campaign, nil
}

// LaunchCampaign moves a draft to active and enqueues a publish job for every
// day-zero variant. A variant whose enqueue fails is marked failed; the rest
// proceed.
func (s *campaignService) LaunchCampaign(ctx context.Context, userID, campaignID uuid.UUID, creds map[string]adplatform.Credentials) (*types.Campaign, error) {
	campaign, err := s.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != types.CampaignStatusDraft {
		return nil, &InvalidStateError{Current: campaign.Status, Wanted: types.CampaignStatusDraft}
	}

	sealed, err := s.sealCredentials(creds)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.campaigns.UpdateFields(ctx, nil, campaign.ID, map[string]interface{}{
		"status":     types.CampaignStatusActive,
		"started_at": now,
	}); err != nil {
		return nil, err
	}
	campaign.Status = types.CampaignStatusActive
	campaign.StartedAt = &now

	due, err := s.variants.ListDueForRollout(ctx, nil, campaign.ID, 0)
	if err != nil {
		return nil, err
	}
	for _, v := range due {
		if err := s.enqueuePublish(ctx, campaign, v, sealed); err != nil {
			s.log.Error("Failed to enqueue publish job, failing variant",
				"campaign_id", campaign.ID, "variant_id", v.ID, "error", err)
			if uErr := s.variants.UpdateFields(ctx, nil, v.ID, map[string]interface{}{
				"status": types.VariantStatusFailed,
			}); uErr != nil {
				s.log.Error("Failed to mark variant failed", "variant_id", v.ID, "error", uErr)
			}
		}
	}

	s.log.Info("Launched campaign", "campaign_id", campaign.ID, "day_zero_variants", len(due))
	return campaign, nil
}

func (s *campaignService) sealCredentials(creds map[string]adplatform.Credentials) (map[string]string, error) {
	sealed := map[string]string{}
	for platform, c := range creds {
		enc, err := s.creds.Encrypt(c)
		if err != nil {
			return nil, fmt.Errorf("seal %s credentials: %w", platform, err)
		}
		sealed[platform] = enc
	}
	return sealed, nil
}

func (s *campaignService) enqueuePublish(ctx context.Context, campaign *types.Campaign, v *types.AdVariant, sealed map[string]string) error {
	var targeting adplatform.Targeting
	if len(v.Targeting) > 0 {
		if err := json.Unmarshal(v.Targeting, &targeting); err != nil {
			return fmt.Errorf("variant %s targeting: %w", v.ID, err)
		}
	}
	payload := PublishPayload{
		UnitID:      v.ID,
		CampaignID:  campaign.ID,
		Title:       v.Label,
		CreativeKey: v.CreativeKey,
		Caption:     campaign.Name,
		BudgetCents: v.BudgetCents,
		Platforms: []PublishTarget{{
			Platform:    v.Platform,
			Credentials: sealed[v.Platform],
			Targeting:   targeting,
		}},
	}
	_, err := s.jobs.Enqueue(ctx, campaign.UserID, types.QueuePublish, payload)
	return err
}

// RolloutDue advances the rollout state machine: for every active campaign it
// enqueues publish jobs for pending variants whose rollout day has arrived,
// and completes campaigns past their test window. Runs on a timer.
func (s *campaignService) RolloutDue(ctx context.Context) (int, error) {
	active, err := s.campaigns.ListActive(ctx, nil)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, campaign := range active {
		if campaign.StartedAt == nil {
			continue
		}
		day := int(s.now().Sub(*campaign.StartedAt).Hours() / 24)
		due, listErr := s.variants.ListDueForRollout(ctx, nil, campaign.ID, day)
		if listErr != nil {
			s.log.Error("Rollout listing failed", "campaign_id", campaign.ID, "error", listErr)
			continue
		}
		for _, v := range due {
			if eErr := s.enqueuePublish(ctx, campaign, v, nil); eErr != nil {
				s.log.Error("Rollout enqueue failed", "campaign_id", campaign.ID, "variant_id", v.ID, "error", eErr)
				continue
			}
			enqueued++
		}
		if day >= campaign.TestDurationDays && len(due) == 0 {
			if uErr := s.campaigns.UpdateFields(ctx, nil, campaign.ID, map[string]interface{}{
				"status": types.CampaignStatusCompleted,
			}); uErr != nil {
				s.log.Error("Failed to complete campaign", "campaign_id", campaign.ID, "error", uErr)
			} else {
				s.log.Info("Campaign test window elapsed, marking completed", "campaign_id", campaign.ID)
			}
		}
	}
	return enqueued, nil
}

func (s *campaignService) ListCampaigns(ctx context.Context, userID uuid.UUID) ([]*types.Campaign, error) {
	return s.campaigns.ListByUser(ctx, nil, userID)
}

func (s *campaignService) GetCampaign(ctx context.Context, userID, campaignID uuid.UUID) (*CampaignDetail, error) {
	campaign, err := s.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	variants, err := s.variants.ListByCampaign(ctx, nil, campaign.ID)
	if err != nil {
		return nil, err
	}
	totals, err := s.metrics.SumActualByVariant(ctx, nil, campaign.ID, campaign.CreatedAt)
	if err != nil {
		return nil, err
	}
	byVariant := make(map[uuid.UUID]repos.VariantTotals, len(totals))
	for _, t := range totals {
		byVariant[t.VariantID] = t
	}

	detail := &CampaignDetail{Campaign: campaign}
	for _, v := range variants {
		perf := VariantPerformance{Variant: v}
		if t, ok := byVariant[v.ID]; ok {
			perf.Impressions = t.Impressions
			perf.Clicks = t.Clicks
			perf.Conversions = t.Conversions
			perf.SpendCents = t.SpendCents
			if t.Impressions > 0 {
				perf.CTR = float64(t.Clicks) / float64(t.Impressions)
			}
			perf.CostPerLead = float64(t.SpendCents) / 100 / float64(maxInt64(1, t.Conversions))
		}
		detail.Variants = append(detail.Variants, perf)
	}
	return detail, nil
}

// CancelCampaign moves a draft or active campaign to canceled and pauses its
// live variants best-effort: an adapter failure is logged, the stored status
// still flips so the variant is never optimized or rolled out again.
func (s *campaignService) CancelCampaign(ctx context.Context, userID, campaignID uuid.UUID) (*types.Campaign, error) {
	campaign, err := s.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != types.CampaignStatusDraft && campaign.Status != types.CampaignStatusActive {
		return nil, &InvalidStateError{Current: campaign.Status, Wanted: types.CampaignStatusActive}
	}

	live, err := s.variants.ListByCampaignAndStatus(ctx, nil, campaign.ID, types.VariantStatusActive)
	if err != nil {
		return nil, err
	}
	for _, v := range live {
		if v.ExternalID != nil {
			if adapter, aErr := s.registry.Get(v.Platform); aErr == nil {
				if pErr := adapter.PauseCampaign(ctx, *v.ExternalID); pErr != nil {
					s.log.Warn("Best-effort pause failed", "variant_id", v.ID, "platform", v.Platform, "error", pErr)
				}
			}
		}
		if uErr := s.variants.UpdateFields(ctx, nil, v.ID, map[string]interface{}{
			"status": types.VariantStatusPaused,
		}); uErr != nil {
			s.log.Error("Failed to mark variant paused", "variant_id", v.ID, "error", uErr)
		}
	}

	if err := s.campaigns.UpdateFields(ctx, nil, campaign.ID, map[string]interface{}{
		"status": types.CampaignStatusCanceled,
	}); err != nil {
		return nil, err
	}
	campaign.Status = types.CampaignStatusCanceled
	s.log.Info("Canceled campaign", "campaign_id", campaign.ID, "paused_variants", len(live))
	return campaign, nil
}

func (s *campaignService) GenerateBudgetRecommendation(ctx context.Context, userID uuid.UUID, requestedCents int64, platforms []string) (*BudgetRecommendation, error) {
	if requestedCents <= 0 {
		return nil, validationErr("budget_not_positive", "requested budget must be positive, got %d cents", requestedCents)
	}
	if len(platforms) == 0 {
		return nil, validationErr("platforms_required", "at least one platform is required")
	}
	for _, p := range platforms {
		if !knownPlatforms[p] {
			return nil, validationErr("unknown_platform", "unknown platform %q", p)
		}
	}

	prompt := fmt.Sprintf(`Recommend an advertising budget allocation.
Requested total (cents): %d
Platforms: %v

Respond with a single JSON object:
{"suggested_budget_cents", "daily_budget_cents", "platform_allocation": {"<platform>": cents}, "risk_level", "reasoning"}`,
		requestedCents, platforms)

	resp, err := s.gen.Generate(ctx, userID, "budget_recommendation", prompt, 800)
	if err != nil {
		s.log.Warn("Budget recommendation generation failed, using fallback", "user_id", userID, "error", err)
		return fallbackBudgetRecommendation(requestedCents, platforms), nil
	}
	rec, err := parseBudgetRecommendation(resp.Content)
	if err != nil {
		s.log.Warn("Budget recommendation unusable, using fallback", "user_id", userID, "error", err)
		return fallbackBudgetRecommendation(requestedCents, platforms), nil
	}
	return rec, nil
}

func parseBudgetRecommendation(content string) (*BudgetRecommendation, error) {
	obj, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var rec BudgetRecommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.SuggestedBudgetCents <= 0 {
		return nil, fmt.Errorf("recommendation missing suggested budget")
	}
	if rec.DailyBudgetCents <= 0 {
		rec.DailyBudgetCents = rec.SuggestedBudgetCents / 30
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = "medium"
	}
	return &rec, nil
}
