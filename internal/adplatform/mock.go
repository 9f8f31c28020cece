package adplatform

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const mockMinBudgetCents = 100

type mockCampaign struct {
	spec      CampaignSpec
	status    string
	createdAt time.Time
	updatedAt time.Time
}

// MockAdapter is the deterministic in-memory adapter used by tests and
// sandbox wiring. The external id is a hash of (title, creative key, budget),
// so repeated creates with identical input return the same id without any
// external state — idempotency by construction.
type MockAdapter struct {
	mu        sync.Mutex
	campaigns map[string]*mockCampaign

	// FailCreate lets tests force create failures for specific platforms'
	// specs by title.
	FailCreate map[string]error
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{campaigns: map[string]*mockCampaign{}}
}

func (a *MockAdapter) Platform() string { return PlatformMock }

func DeterministicID(title, creativeKey string, budgetCents int64) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", title, creativeKey, budgetCents)
	return fmt.Sprintf("mock-%016x", h.Sum64())
}

func (a *MockAdapter) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := validateSpec(PlatformMock, spec, mockMinBudgetCents); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.FailCreate[spec.Title]; ok && err != nil {
		return "", err
	}
	id := DeterministicID(spec.Title, spec.CreativeKey, spec.BudgetCents)
	if _, exists := a.campaigns[id]; !exists {
		now := time.Now()
		a.campaigns[id] = &mockCampaign{
			spec:      spec,
			status:    StatusActive,
			createdAt: now,
			updatedAt: now,
		}
	}
	return id, nil
}

func (a *MockAdapter) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	campaign, ok := a.campaigns[id]
	if !ok {
		return &CampaignNotFoundError{Platform: PlatformMock, ID: id}
	}
	if update.BudgetCents != nil {
		if *update.BudgetCents < mockMinBudgetCents {
			return &InsufficientBudgetError{Platform: PlatformMock, RequestedCents: *update.BudgetCents, MinimumCents: mockMinBudgetCents}
		}
		campaign.spec.BudgetCents = *update.BudgetCents
	}
	if update.Title != nil {
		campaign.spec.Title = *update.Title
	}
	if update.Targeting != nil {
		if err := validateTargeting(PlatformMock, *update.Targeting); err != nil {
			return err
		}
		campaign.spec.Targeting = *update.Targeting
	}
	campaign.updatedAt = time.Now()
	return nil
}

func (a *MockAdapter) PauseCampaign(ctx context.Context, id string) error {
	return a.setStatus(id, StatusPaused)
}

func (a *MockAdapter) ResumeCampaign(ctx context.Context, id string) error {
	return a.setStatus(id, StatusActive)
}

func (a *MockAdapter) DeleteCampaign(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.campaigns[id]; !ok {
		return &CampaignNotFoundError{Platform: PlatformMock, ID: id}
	}
	delete(a.campaigns, id)
	return nil
}

func (a *MockAdapter) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	campaign, ok := a.campaigns[id]
	if !ok {
		return nil, &CampaignNotFoundError{Platform: PlatformMock, ID: id}
	}
	// Synthetic but stable numbers derived from the budget, so downstream
	// aggregation has something deterministic to chew on.
	impressions := campaign.spec.BudgetCents / 2
	clicks := impressions / 50
	conversions := clicks / 10
	var ctr, cpc, cpm float64
	if impressions > 0 {
		ctr = float64(clicks) / float64(impressions)
		cpm = float64(campaign.spec.BudgetCents) / float64(impressions) * 1000
	}
	if clicks > 0 {
		cpc = float64(campaign.spec.BudgetCents) / float64(clicks)
	}
	return &CampaignStatus{
		ID:               id,
		Status:           campaign.status,
		BudgetSpentCents: campaign.spec.BudgetCents / 2,
		Impressions:      impressions,
		Clicks:           clicks,
		Conversions:      conversions,
		CTR:              ctr,
		CPC:              cpc,
		CPM:              cpm,
		CreatedAt:        campaign.createdAt,
		UpdatedAt:        campaign.updatedAt,
	}, nil
}

func (a *MockAdapter) setStatus(id, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	campaign, ok := a.campaigns[id]
	if !ok {
		return &CampaignNotFoundError{Platform: PlatformMock, ID: id}
	}
	campaign.status = status
	campaign.updatedAt = time.Now()
	return nil
}
