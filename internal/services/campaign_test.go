package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type fakeUserRepo struct {
	users map[uuid.UUID]*types.User
}

func (r *fakeUserRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error) {
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
	return r.users[id], nil
}

type fakeGenService struct {
	resp *GenerateResponse
	err  error
}

func (f *fakeGenService) Generate(ctx context.Context, userID uuid.UUID, callType, prompt string, maxTokens int) (*GenerateResponse, error) {
	return f.resp, f.err
}

type fakeJobService struct {
	payloads []interface{}
	queues   []string
	err      error
}

func (f *fakeJobService) Enqueue(ctx context.Context, ownerUserID uuid.UUID, queue string, payload interface{}) (*types.JobRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	f.queues = append(f.queues, queue)
	return &types.JobRun{ID: uuid.New(), Queue: queue, Status: types.JobStatusQueued}, nil
}

func (f *fakeJobService) RegisterHandler(queue string, handler JobHandler) {}
func (f *fakeJobService) StartWorkers(ctx context.Context)                 {}
func (f *fakeJobService) Wait()                                            {}

func (f *fakeJobService) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func testLimitsFull() config.Limits {
	return config.Limits{
		FreeBudgetCeilingCents:    50000,
		StarterBudgetCeilingCents: 500000,
		ProBudgetCeilingCents:     5000000,
		MonthlySpendCapCents:      10000000,
		RequestsPerWindow:         30,
		RequestWindow:             time.Minute,
		MonthlyTokenQuota:         2000000,
	}
}

type campaignFixture struct {
	svc       *campaignService
	users     *fakeUserRepo
	campaigns *fakeCampaignRepo
	variants  *fakeVariantRepo
	metrics   *fakeMetricRepo
	gen       *fakeGenService
	jobs      *fakeJobService
	adapter   *stubAdapter
}

func newCampaignFixture(t *testing.T, db *gorm.DB) *campaignFixture {
	t.Helper()
	adapter := &stubAdapter{platform: adplatform.PlatformMeta}
	registry := adplatform.NewRegistry()
	registry.Register(adplatform.PlatformMeta, adapter)

	fx := &campaignFixture{
		users:     &fakeUserRepo{users: map[uuid.UUID]*types.User{}},
		campaigns: newFakeCampaignRepo(),
		variants:  newFakeVariantRepo(),
		metrics:   &fakeMetricRepo{},
		gen:       &fakeGenService{err: errors.New("generation offline")},
		jobs:      &fakeJobService{},
		adapter:   adapter,
	}
	fx.svc = &campaignService{
		db:         db,
		log:        testLogger(t).With("service", "CampaignService"),
		limits:     testLimitsFull(),
		users:      fx.users,
		campaigns:  fx.campaigns,
		variants:   fx.variants,
		metrics:    fx.metrics,
		gen:        fx.gen,
		jobs:       fx.jobs,
		registry:   registry,
		benchmarks: defaultBenchmarks,
		seed:       stableSeed,
		now:        time.Now,
	}
	return fx
}

func (fx *campaignFixture) addUser(tier string) uuid.UUID {
	id := uuid.New()
	fx.users.users[id] = &types.User{ID: id, Email: "u@example.com", Tier: tier}
	return id
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	return db
}

func TestValidateCreateTierRules(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	cases := []struct {
		name   string
		tier   string
		mutate func(*CreateCampaignRequest)
		reason string
	}{
		{"missing_objective", types.TierPro, func(r *CreateCampaignRequest) { r.Objective = "" }, "objective_required"},
		{"no_platforms", types.TierPro, func(r *CreateCampaignRequest) { r.Platforms = nil }, "platforms_required"},
		{"unknown_platform", types.TierPro, func(r *CreateCampaignRequest) { r.Platforms = []string{"myspace"} }, "unknown_platform"},
		{"zero_budget", types.TierPro, func(r *CreateCampaignRequest) { r.BudgetTotalCents = 0 }, "budget_not_positive"},
		{"too_many_groups", types.TierPro, func(r *CreateCampaignRequest) { r.TestGroups = 9 }, "test_groups_range"},
		{"free_over_ceiling", types.TierFree, func(r *CreateCampaignRequest) {
			r.BudgetTotalCents = 50001
			r.Platforms = []string{"meta"}
		}, "free_tier_budget_ceiling"},
		{"free_multi_platform", types.TierFree, func(r *CreateCampaignRequest) { r.BudgetTotalCents = 10000 }, "free_tier_single_platform"},
		{"starter_over_ceiling", types.TierStarter, func(r *CreateCampaignRequest) { r.BudgetTotalCents = 500001 }, "tier_budget_ceiling"},
		{"pro_over_ceiling", types.TierPro, func(r *CreateCampaignRequest) { r.BudgetTotalCents = 5000001 }, "tier_budget_ceiling"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := planRequest()
			tc.mutate(&req)
			err := fx.svc.validateCreate(&types.User{Tier: tc.tier}, &req)
			var v *ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("expected a validation error, got %v", err)
			}
			if v.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q (%s)", tc.reason, v.Reason, v.Message)
			}
		})
	}
}

func TestValidateCreateAppliesDefaults(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	req := planRequest()
	req.TestGroups = 0
	req.TestDurationDays = 0

	if err := fx.svc.validateCreate(&types.User{Tier: types.TierPro}, &req); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if req.TestGroups != 2 || req.TestDurationDays != 7 {
		t.Fatalf("defaults not applied: groups=%d days=%d", req.TestGroups, req.TestDurationDays)
	}
}

func TestCreateCampaignFallsBackToDeterministicPlan(t *testing.T) {
	fx := newCampaignFixture(t, testDB(t))
	userID := fx.addUser(types.TierPro)

	detail, err := fx.svc.CreateCampaign(context.Background(), userID, planRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if detail.Campaign.Status != types.CampaignStatusDraft {
		t.Fatalf("new campaigns start as drafts, got %q", detail.Campaign.Status)
	}
	if len(detail.Variants) != 6 {
		t.Fatalf("expected 6 variants from the fallback plan, got %d", len(detail.Variants))
	}
	for i := 1; i < len(fx.variants.variants); i++ {
		if !fx.variants.variants[i].CreatedAt.After(fx.variants.variants[i-1].CreatedAt) {
			t.Fatal("variant creation timestamps must be strictly increasing")
		}
	}
	if got := len(fx.metrics.created); got != 6*expectedMetricDays {
		t.Fatalf("expected %d projected metric rows, got %d", 6*expectedMetricDays, got)
	}
	for _, m := range fx.metrics.created {
		if m.Source != types.MetricSourceExpected {
			t.Fatalf("projections must carry the expected source, got %q", m.Source)
		}
	}
}

func TestCreateCampaignEnforcesMonthlySpendCap(t *testing.T) {
	fx := newCampaignFixture(t, testDB(t))
	fx.metrics.monthSpend = testLimitsFull().MonthlySpendCapCents - 10000
	userID := fx.addUser(types.TierPro)

	req := planRequest() // 30000 cents, only 10000 of headroom left
	_, err := fx.svc.CreateCampaign(context.Background(), userID, req)
	var v *ValidationError
	if !errors.As(err, &v) || v.Reason != "monthly_spend_cap" {
		t.Fatalf("expected monthly_spend_cap rejection, got %v", err)
	}
}

func TestCreateCampaignUnknownUser(t *testing.T) {
	fx := newCampaignFixture(t, testDB(t))
	if _, err := fx.svc.CreateCampaign(context.Background(), uuid.New(), planRequest()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeedExpectedMetricsIsDeterministic(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	campaign := &types.Campaign{ID: uuid.New()}
	variant := &types.AdVariant{
		ID: uuid.New(), CampaignID: campaign.ID, Label: "A-meta",
		Platform: adplatform.PlatformMeta, BudgetCents: 30000,
	}

	first := fx.svc.seedExpectedMetrics(campaign, []*types.AdVariant{variant})
	second := fx.svc.seedExpectedMetrics(campaign, []*types.AdVariant{variant})
	if len(first) != expectedMetricDays || len(second) != expectedMetricDays {
		t.Fatalf("expected %d rows per run, got %d and %d", expectedMetricDays, len(first), len(second))
	}
	for i := range first {
		if first[i].Impressions != second[i].Impressions ||
			first[i].Clicks != second[i].Clicks ||
			first[i].Conversions != second[i].Conversions {
			t.Fatalf("day %d projection differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestLaunchCampaignOnlyFromDraft(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	userID := fx.addUser(types.TierPro)
	campaign := &types.Campaign{
		ID: uuid.New(), UserID: userID,
		Status: types.CampaignStatusActive, TestDurationDays: 7,
	}
	fx.campaigns.campaigns[campaign.ID] = campaign

	_, err := fx.svc.LaunchCampaign(context.Background(), userID, campaign.ID, nil)
	var state *InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("expected InvalidStateError for a non-draft, got %v", err)
	}
}

func TestLaunchCampaignEnqueuesDayZeroVariants(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	userID := fx.addUser(types.TierPro)
	campaign := &types.Campaign{
		ID: uuid.New(), UserID: userID, Name: "Lead Gen Test",
		Status: types.CampaignStatusDraft, TestDurationDays: 7,
	}
	fx.campaigns.campaigns[campaign.ID] = campaign

	dayZero := activeVariant(campaign.ID, "A-meta", "A", 5000, "")
	dayZero.Status = types.VariantStatusPending
	dayZero.Platform = adplatform.PlatformMeta
	later := activeVariant(campaign.ID, "B-meta", "B", 5000, "")
	later.Status = types.VariantStatusPending
	later.RolloutDay = 3
	fx.variants.variants = append(fx.variants.variants, dayZero, later)

	launched, err := fx.svc.LaunchCampaign(context.Background(), userID, campaign.ID, nil)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if launched.Status != types.CampaignStatusActive || launched.StartedAt == nil {
		t.Fatalf("launch must activate and timestamp the campaign: %+v", launched)
	}
	if len(fx.jobs.payloads) != 1 {
		t.Fatalf("only the day-zero variant publishes at launch, got %d jobs", len(fx.jobs.payloads))
	}
	payload := fx.jobs.payloads[0].(PublishPayload)
	if payload.UnitID != dayZero.ID || payload.Caption != "Lead Gen Test" {
		t.Fatalf("unexpected publish payload: %+v", payload)
	}
}

func TestRolloutDueAdvancesAndCompletes(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	userID := fx.addUser(types.TierPro)

	startedRecently := time.Now().Add(-50 * time.Hour) // day 2
	rolling := &types.Campaign{
		ID: uuid.New(), UserID: userID, Status: types.CampaignStatusActive,
		TestDurationDays: 7, StartedAt: &startedRecently,
	}
	startedLongAgo := time.Now().Add(-10 * 24 * time.Hour) // day 10
	elapsed := &types.Campaign{
		ID: uuid.New(), UserID: userID, Status: types.CampaignStatusActive,
		TestDurationDays: 7, StartedAt: &startedLongAgo,
	}
	fx.campaigns.campaigns[rolling.ID] = rolling
	fx.campaigns.campaigns[elapsed.ID] = elapsed

	due := activeVariant(rolling.ID, "B-meta", "B", 5000, "")
	due.Status = types.VariantStatusPending
	due.RolloutDay = 2
	notYet := activeVariant(rolling.ID, "C-meta", "C", 5000, "")
	notYet.Status = types.VariantStatusPending
	notYet.RolloutDay = 5
	fx.variants.variants = append(fx.variants.variants, due, notYet)

	n, err := fx.svc.RolloutDue(context.Background())
	if err != nil {
		t.Fatalf("rollout sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly the due variant to be enqueued, got %d", n)
	}
	if elapsed.Status != types.CampaignStatusCompleted {
		t.Fatalf("campaign past its window must complete, got %q", elapsed.Status)
	}
	if rolling.Status != types.CampaignStatusActive {
		t.Fatalf("campaign with pending variants must stay active, got %q", rolling.Status)
	}
}

func TestGetCampaignEnforcesOwnership(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	owner := fx.addUser(types.TierPro)
	stranger := fx.addUser(types.TierPro)
	campaign := &types.Campaign{ID: uuid.New(), UserID: owner, Status: types.CampaignStatusActive}
	fx.campaigns.campaigns[campaign.ID] = campaign

	if _, err := fx.svc.GetCampaign(context.Background(), stranger, campaign.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign campaigns must read as not found, got %v", err)
	}
	if _, err := fx.svc.GetCampaign(context.Background(), owner, campaign.ID); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
}

func TestGetCampaignRollsUpActuals(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	owner := fx.addUser(types.TierPro)
	campaign := &types.Campaign{ID: uuid.New(), UserID: owner, Status: types.CampaignStatusActive}
	fx.campaigns.campaigns[campaign.ID] = campaign

	v := activeVariant(campaign.ID, "A-meta", "A", 5000, "")
	fx.variants.variants = append(fx.variants.variants, v)
	fx.metrics.totals = []repos.VariantTotals{
		{VariantID: v.ID, Impressions: 1000, Clicks: 50, Conversions: 10, SpendCents: 2000},
	}

	detail, err := fx.svc.GetCampaign(context.Background(), owner, campaign.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	perf := detail.Variants[0]
	if perf.CTR != 0.05 {
		t.Fatalf("expected CTR 0.05, got %v", perf.CTR)
	}
	if perf.CostPerLead != 2.0 {
		t.Fatalf("expected cost per lead $2.00, got %v", perf.CostPerLead)
	}
}

func TestCancelCampaignPausesLiveVariants(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	owner := fx.addUser(types.TierPro)
	campaign := &types.Campaign{ID: uuid.New(), UserID: owner, Status: types.CampaignStatusActive}
	fx.campaigns.campaigns[campaign.ID] = campaign

	live := activeVariant(campaign.ID, "A-meta", "A", 5000, "meta-ext-1")
	live.Platform = adplatform.PlatformMeta
	fx.variants.variants = append(fx.variants.variants, live)

	canceled, err := fx.svc.CancelCampaign(context.Background(), owner, campaign.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if canceled.Status != types.CampaignStatusCanceled {
		t.Fatalf("expected canceled status, got %q", canceled.Status)
	}
	if live.Status != types.VariantStatusPaused {
		t.Fatalf("live variants must be paused, got %q", live.Status)
	}

	// A completed campaign cannot be canceled.
	campaign.Status = types.CampaignStatusCompleted
	_, err = fx.svc.CancelCampaign(context.Background(), owner, campaign.ID)
	var state *InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestGenerateBudgetRecommendationFallsBack(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	userID := fx.addUser(types.TierPro)

	rec, err := fx.svc.GenerateBudgetRecommendation(context.Background(), userID, 1000, []string{"meta", "tiktok"})
	if err != nil {
		t.Fatalf("recommendation failed: %v", err)
	}
	if rec.Reasoning != conservativeReasoning {
		t.Fatalf("generation failure must yield the conservative fallback, got %q", rec.Reasoning)
	}
}

func TestGenerateBudgetRecommendationValidates(t *testing.T) {
	fx := newCampaignFixture(t, nil)
	userID := fx.addUser(types.TierPro)
	ctx := context.Background()

	if _, err := fx.svc.GenerateBudgetRecommendation(ctx, userID, 0, []string{"meta"}); err == nil {
		t.Fatal("zero budget must be rejected")
	}
	if _, err := fx.svc.GenerateBudgetRecommendation(ctx, userID, 1000, nil); err == nil {
		t.Fatal("empty platform list must be rejected")
	}
	if _, err := fx.svc.GenerateBudgetRecommendation(ctx, userID, 1000, []string{"myspace"}); err == nil {
		t.Fatal("unknown platforms must be rejected")
	}
}

func TestParseBudgetRecommendationDefaults(t *testing.T) {
	rec, err := parseBudgetRecommendation(`{"suggested_budget_cents": 60000}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.DailyBudgetCents != 2000 {
		t.Fatalf("daily budget must default to suggested/30, got %d", rec.DailyBudgetCents)
	}
	if rec.RiskLevel != "medium" {
		t.Fatalf("risk level must default to medium, got %q", rec.RiskLevel)
	}

	if _, err := parseBudgetRecommendation(`{"risk_level": "low"}`); err == nil {
		t.Fatal("a recommendation without a suggested budget is unusable")
	}
}
