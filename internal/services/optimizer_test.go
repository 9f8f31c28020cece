package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*types.Campaign
	updates   map[uuid.UUID]map[string]interface{}
}

func newFakeCampaignRepo(campaigns ...*types.Campaign) *fakeCampaignRepo {
	r := &fakeCampaignRepo{
		campaigns: map[uuid.UUID]*types.Campaign{},
		updates:   map[uuid.UUID]map[string]interface{}{},
	}
	for _, c := range campaigns {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *fakeCampaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error) {
	r.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (r *fakeCampaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *fakeCampaignRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Campaign, error) {
	var out []*types.Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	var out []*types.Campaign
	for _, c := range r.campaigns {
		if c.Status == types.CampaignStatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListActiveAutoOptimize(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	var out []*types.Campaign
	for _, c := range r.campaigns {
		if c.Status == types.CampaignStatusActive && c.AutoOptimize {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.updates[id] = updates
	if c, ok := r.campaigns[id]; ok {
		if status, sOk := updates["status"].(string); sOk {
			c.Status = status
		}
	}
	return nil
}

type fakeVariantRepo struct {
	variants []*types.AdVariant
	updates  map[uuid.UUID][]map[string]interface{}
}

func newFakeVariantRepo(variants ...*types.AdVariant) *fakeVariantRepo {
	return &fakeVariantRepo{variants: variants, updates: map[uuid.UUID][]map[string]interface{}{}}
}

func (r *fakeVariantRepo) CreateBatch(ctx context.Context, tx *gorm.DB, variants []*types.AdVariant) ([]*types.AdVariant, error) {
	r.variants = append(r.variants, variants...)
	return variants, nil
}

func (r *fakeVariantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AdVariant, error) {
	for _, v := range r.variants {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (r *fakeVariantRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.AdVariant, error) {
	var out []*types.AdVariant
	for _, v := range r.variants {
		if v.CampaignID == campaignID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeVariantRepo) ListByCampaignAndStatus(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, status string) ([]*types.AdVariant, error) {
	var out []*types.AdVariant
	for _, v := range r.variants {
		if v.CampaignID == campaignID && v.Status == status {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeVariantRepo) ListDueForRollout(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, maxRolloutDay int) ([]*types.AdVariant, error) {
	var out []*types.AdVariant
	for _, v := range r.variants {
		if v.CampaignID == campaignID && v.Status == types.VariantStatusPending && v.RolloutDay <= maxRolloutDay {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeVariantRepo) SetExternalID(ctx context.Context, tx *gorm.DB, id uuid.UUID, externalID string) error {
	for _, v := range r.variants {
		if v.ID == id && v.ExternalID == nil {
			ext := externalID
			v.ExternalID = &ext
		}
	}
	return nil
}

func (r *fakeVariantRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.updates[id] = append(r.updates[id], updates)
	for _, v := range r.variants {
		if v.ID != id {
			continue
		}
		if status, ok := updates["status"].(string); ok {
			v.Status = status
		}
		if budget, ok := updates["budget_cents"].(int64); ok {
			v.BudgetCents = budget
		}
	}
	return nil
}

type fakeMetricRepo struct {
	totals     []repos.VariantTotals
	monthSpend int64
	created    []*types.CampaignMetric
	since      time.Time
}

func (r *fakeMetricRepo) CreateBatch(ctx context.Context, tx *gorm.DB, metrics []*types.CampaignMetric) ([]*types.CampaignMetric, error) {
	r.created = append(r.created, metrics...)
	return metrics, nil
}

func (r *fakeMetricRepo) SumActualByVariant(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, since time.Time) ([]repos.VariantTotals, error) {
	r.since = since
	return r.totals, nil
}

func (r *fakeMetricRepo) SumActualSpendForUserMonth(ctx context.Context, tx *gorm.DB, userID uuid.UUID, monthStart time.Time) (int64, error) {
	return r.monthSpend, nil
}

func (r *fakeMetricRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, source string) ([]*types.CampaignMetric, error) {
	return r.created, nil
}

type fakeOptLogRepo struct {
	entries []*types.OptimizationLog
}

func (r *fakeOptLogRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.OptimizationLog) ([]*types.OptimizationLog, error) {
	r.entries = append(r.entries, entries...)
	return entries, nil
}

func (r *fakeOptLogRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.OptimizationLog, error) {
	return r.entries, nil
}

func activeVariant(campaignID uuid.UUID, label, group string, budgetCents int64, externalID string) *types.AdVariant {
	v := &types.AdVariant{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		Label:       label,
		CreativeKey: "creatives/" + label,
		Platform:    adplatform.PlatformMock,
		BudgetCents: budgetCents,
		Targeting:   datatypes.JSON(`{"age_min":18,"age_max":45,"geos":["US"]}`),
		TestGroup:   group,
		Status:      types.VariantStatusActive,
	}
	if externalID != "" {
		v.ExternalID = &externalID
	}
	return v
}

type optimizerFixture struct {
	svc       *optimizerService
	adapter   *adplatform.MockAdapter
	campaign  *types.Campaign
	variants  *fakeVariantRepo
	logs      *fakeOptLogRepo
	campaigns *fakeCampaignRepo
}

func newOptimizerFixture(t *testing.T, campaign *types.Campaign, variants *fakeVariantRepo, metrics *fakeMetricRepo) *optimizerFixture {
	t.Helper()
	adapter := adplatform.NewMockAdapter()
	registry := adplatform.NewRegistry()
	registry.Register(adplatform.PlatformMock, adapter)
	campaigns := newFakeCampaignRepo(campaign)
	logs := &fakeOptLogRepo{}
	svc := &optimizerService{
		log:       testLogger(t).With("service", "OptimizerService"),
		cfg:       config.Optimizer{WinnerScaleMultiplier: 1.5, LookbackHours: 168},
		campaigns: campaigns,
		variants:  variants,
		metrics:   metrics,
		logs:      logs,
		registry:  registry,
		now:       time.Now,
		inFlight:  map[uuid.UUID]struct{}{},
	}
	return &optimizerFixture{
		svc:       svc,
		adapter:   adapter,
		campaign:  campaign,
		variants:  variants,
		logs:      logs,
		campaigns: campaigns,
	}
}

func testCampaign(autoOptimize bool) *types.Campaign {
	return &types.Campaign{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Status:       types.CampaignStatusActive,
		AutoOptimize: autoOptimize,
	}
}

func TestOptimizePausesLosersAndScalesWinner(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)

	// Give both variants real mock campaigns so the adapter calls land.
	adapter := adplatform.NewMockAdapter()
	winnerExt, _ := adapter.CreateCampaign(ctx, adplatform.CampaignSpec{
		Title: "A-mock", CreativeKey: "creatives/a-mock", BudgetCents: 5000,
	})
	loserExt, _ := adapter.CreateCampaign(ctx, adplatform.CampaignSpec{
		Title: "B-mock", CreativeKey: "creatives/b-mock", BudgetCents: 5000,
	})

	winner := activeVariant(campaign.ID, "A-mock", "A", 5000, winnerExt)
	loser := activeVariant(campaign.ID, "B-mock", "B", 5000, loserExt)
	variants := newFakeVariantRepo(winner, loser)
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: winner.ID, Conversions: 100, SpendCents: 10000}, // CPL $1
		{VariantID: loser.ID, Conversions: 10, SpendCents: 10000},   // CPL $10
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	fx.adapter = adapter
	fx.svc.registry = adplatform.NewRegistry()
	fx.svc.registry.Register(adplatform.PlatformMock, adapter)

	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if !result.Applied || result.WinnerGroup != "A" {
		t.Fatalf("expected group A to win, got %+v", result)
	}
	if result.Paused != 1 || result.Scaled != 1 {
		t.Fatalf("expected one pause and one scale, got %+v", result)
	}

	if loser.Status != types.VariantStatusPaused {
		t.Fatalf("loser must be paused, got %q", loser.Status)
	}
	loserStatus, _ := adapter.GetCampaignStatus(ctx, loserExt)
	if loserStatus.Status != adplatform.StatusPaused {
		t.Fatalf("loser must be paused on the platform, got %q", loserStatus.Status)
	}
	if winner.BudgetCents != 7500 {
		t.Fatalf("winner budget must scale 5000 -> 7500, got %d", winner.BudgetCents)
	}

	var pauses, scales int
	for _, entry := range fx.logs.entries {
		if entry.WinnerGroup != "A" {
			t.Fatalf("every log entry must name the winner, got %q", entry.WinnerGroup)
		}
		switch entry.Action {
		case types.OptimizationActionPause:
			pauses++
		case types.OptimizationActionScale:
			scales++
		}
	}
	if pauses != 1 || scales != 1 {
		t.Fatalf("expected 1 pause + 1 scale log entry, got %d + %d", pauses, scales)
	}
}

func TestOptimizeSecondRunDoesNotRescaleWinner(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)

	winner := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	loser := activeVariant(campaign.ID, "B-mock", "B", 5000, "")
	variants := newFakeVariantRepo(winner, loser)
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: winner.ID, Conversions: 100, SpendCents: 10000},
		{VariantID: loser.ID, Conversions: 10, SpendCents: 10000},
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	if _, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0); err != nil {
		t.Fatalf("first optimize failed: %v", err)
	}
	if winner.BudgetCents != 7500 {
		t.Fatalf("winner budget must scale 5000 -> 7500, got %d", winner.BudgetCents)
	}
	logged := len(fx.logs.entries)

	// The sweep re-runs optimization every interval; the decision must not be
	// applied twice.
	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("second optimize failed: %v", err)
	}
	if result.Applied || result.Scaled != 0 || result.Paused != 0 {
		t.Fatalf("second run must be a no-op, got %+v", result)
	}
	if result.WinnerGroup != "A" {
		t.Fatalf("second run must report the recorded winner, got %q", result.WinnerGroup)
	}
	if winner.BudgetCents != 7500 {
		t.Fatalf("winner budget must not compound, got %d", winner.BudgetCents)
	}
	if len(fx.logs.entries) != logged {
		t.Fatalf("second run must not append log entries, got %d -> %d", logged, len(fx.logs.entries))
	}
}

func TestOptimizePausesPendingLoserVariants(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)

	winner := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	loser := activeVariant(campaign.ID, "B-mock", "B", 5000, "")
	pendingLoser := activeVariant(campaign.ID, "B-mock-d3", "B", 5000, "")
	pendingLoser.Status = types.VariantStatusPending
	pendingLoser.RolloutDay = 3
	variants := newFakeVariantRepo(winner, loser, pendingLoser)
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: winner.ID, Conversions: 100, SpendCents: 10000},
		{VariantID: loser.ID, Conversions: 10, SpendCents: 10000},
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if result.Paused != 2 {
		t.Fatalf("both loser variants must be paused, got %+v", result)
	}
	if pendingLoser.Status != types.VariantStatusPaused {
		t.Fatalf("pending loser must be paused, got %q", pendingLoser.Status)
	}

	// The rollout sweep must not publish into a group that already lost.
	due, err := variants.ListDueForRollout(ctx, nil, campaign.ID, 10)
	if err != nil {
		t.Fatalf("list due failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("paused loser must not be due for rollout, got %d variants", len(due))
	}
}

func TestOptimizeUnmeasuredGroupLoses(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)

	winner := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	loser := activeVariant(campaign.ID, "B-mock", "B", 5000, "")
	silent := activeVariant(campaign.ID, "C-mock", "C", 5000, "")
	variants := newFakeVariantRepo(winner, loser, silent)
	// Group C has no actual rows at all.
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: winner.ID, Conversions: 100, SpendCents: 10000},
		{VariantID: loser.ID, Conversions: 10, SpendCents: 10000},
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if result.WinnerGroup != "A" || result.Paused != 2 {
		t.Fatalf("unmeasured group must lose alongside the measured loser, got %+v", result)
	}
	if silent.Status != types.VariantStatusPaused {
		t.Fatalf("unmeasured group's variant must be paused, got %q", silent.Status)
	}
	var loggedC bool
	for _, entry := range fx.logs.entries {
		if entry.TestGroup == "C" && entry.Action == types.OptimizationActionPause {
			loggedC = true
		}
	}
	if !loggedC {
		t.Fatal("pausing the unmeasured group must be logged")
	}
}

func TestOptimizeLookbackOverride(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)
	metrics := &fakeMetricRepo{}
	fx := newOptimizerFixture(t, campaign, newFakeVariantRepo(), metrics)

	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return fixed }

	if _, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 24); err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if want := fixed.Add(-24 * time.Hour); !metrics.since.Equal(want) {
		t.Fatalf("payload lookback must set the window, got %v want %v", metrics.since, want)
	}

	if _, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0); err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if want := fixed.Add(-168 * time.Hour); !metrics.since.Equal(want) {
		t.Fatalf("zero lookback must use the configured window, got %v want %v", metrics.since, want)
	}
}

func TestOptimizeTieGoesToFirstCreatedGroup(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)

	first := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	second := activeVariant(campaign.ID, "B-mock", "B", 5000, "")
	variants := newFakeVariantRepo(first, second)
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: first.ID, Conversions: 10, SpendCents: 5000},
		{VariantID: second.ID, Conversions: 10, SpendCents: 5000},
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if result.WinnerGroup != "A" {
		t.Fatalf("ties must go to the first-created group, got %q", result.WinnerGroup)
	}
	if second.Status != types.VariantStatusPaused {
		t.Fatalf("group B must be paused on a tie, got %q", second.Status)
	}
}

func TestOptimizeNoOpWithoutAutoOptimize(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(false)
	v := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	fx := newOptimizerFixture(t, campaign, newFakeVariantRepo(v), &fakeMetricRepo{})

	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if result.Applied {
		t.Fatal("auto-optimize off must be a no-op")
	}
	if v.Status != types.VariantStatusActive {
		t.Fatalf("variant must be untouched, got %q", v.Status)
	}
}

func TestOptimizeRequiresTwoMeasuredGroups(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)
	measured := activeVariant(campaign.ID, "A-mock", "A", 5000, "")
	unmeasured := activeVariant(campaign.ID, "B-mock", "B", 5000, "")
	variants := newFakeVariantRepo(measured, unmeasured)
	// Only group A has actual rows; a never-run group must not win on a zero
	// cost per lead.
	metrics := &fakeMetricRepo{totals: []repos.VariantTotals{
		{VariantID: measured.ID, Conversions: 5, SpendCents: 5000},
	}}

	fx := newOptimizerFixture(t, campaign, variants, metrics)
	result, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if result.Applied {
		t.Fatalf("a single measured group must not trigger decisions, got %+v", result)
	}
	if unmeasured.Status != types.VariantStatusActive {
		t.Fatalf("no decision may touch variants, got %q", unmeasured.Status)
	}
}

func TestOptimizeSingleFlightPerCampaign(t *testing.T) {
	ctx := context.Background()
	campaign := testCampaign(true)
	fx := newOptimizerFixture(t, campaign, newFakeVariantRepo(), &fakeMetricRepo{})

	if !fx.svc.acquire(campaign.ID) {
		t.Fatal("first acquire must succeed")
	}
	_, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0)
	var conflict *ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrencyConflictError while in flight, got %v", err)
	}
	fx.svc.release(campaign.ID)

	if _, err := fx.svc.OptimizeCampaign(ctx, campaign.ID, 0); err != nil {
		t.Fatalf("optimize after release failed: %v", err)
	}
}

func TestOptimizeUnknownCampaign(t *testing.T) {
	fx := newOptimizerFixture(t, testCampaign(true), newFakeVariantRepo(), &fakeMetricRepo{})
	_, err := fx.svc.OptimizeCampaign(context.Background(), uuid.New(), 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
