package adplatform

import (
	"context"
	"fmt"
	"time"
)

// Normalized campaign status vocabulary. Every adapter maps its platform's
// own status strings into one of these.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	PlatformMeta   = "meta"
	PlatformTikTok = "tiktok"
	PlatformGoogle = "google"
	PlatformMock   = "mock"
)

// Targeting describes who should see a campaign. Budgets and ranges are
// validated per platform before any request is issued.
type Targeting struct {
	AgeMin     int      `json:"age_min"`
	AgeMax     int      `json:"age_max"`
	Genders    []string `json:"genders,omitempty"`
	Geos       []string `json:"geos,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	Placements []string `json:"placements,omitempty"`
}

type CampaignSpec struct {
	Title       string            `json:"title"`
	CreativeKey string            `json:"creative_key"`
	BudgetCents int64             `json:"budget_cents"`
	Targeting   Targeting         `json:"targeting"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CampaignUpdate is a partial update; nil fields are left untouched. A budget
// change re-runs the platform's minimum-budget check.
type CampaignUpdate struct {
	Title       *string    `json:"title,omitempty"`
	BudgetCents *int64     `json:"budget_cents,omitempty"`
	Targeting   *Targeting `json:"targeting,omitempty"`
}

type CampaignStatus struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	BudgetSpentCents int64     `json:"budget_spent_cents"`
	Impressions      int64     `json:"impressions"`
	Clicks           int64     `json:"clicks"`
	Conversions      int64     `json:"conversions"`
	CTR              float64   `json:"ctr"`
	CPC              float64   `json:"cpc"`
	CPM              float64   `json:"cpm"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Credentials carries the per-account secrets an adapter needs. They arrive
// decrypted from the credential service, never from config in plain text.
type Credentials struct {
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id"`
}

// Adapter is the uniform contract over one external ad platform. All calls
// are blocking network operations bounded by the context.
type Adapter interface {
	Platform() string
	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
	UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error
	PauseCampaign(ctx context.Context, id string) error
	ResumeCampaign(ctx context.Context, id string) error
	DeleteCampaign(ctx context.Context, id string) error
	GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error)
}

// Factory builds an adapter bound to one account's credentials.
type Factory func(creds Credentials) Adapter

// Registry is the explicit platform→adapter dispatch table. It is constructed
// at startup and injected; there is no module-level registry.
type Registry struct {
	adapters  map[string]Adapter
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:  map[string]Adapter{},
		factories: map[string]Factory{},
	}
}

func (r *Registry) Register(platform string, adapter Adapter) {
	r.adapters[platform] = adapter
}

func (r *Registry) RegisterFactory(platform string, factory Factory) {
	r.factories[platform] = factory
}

func (r *Registry) Get(platform string) (Adapter, error) {
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	return adapter, nil
}

// ForCredentials returns an adapter bound to the given credentials when a
// factory is registered for the platform, falling back to the default
// adapter otherwise.
func (r *Registry) ForCredentials(platform string, creds Credentials) (Adapter, error) {
	if factory, ok := r.factories[platform]; ok {
		return factory(creds), nil
	}
	return r.Get(platform)
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters)+len(r.factories))
	seen := map[string]bool{}
	for p := range r.adapters {
		seen[p] = true
		out = append(out, p)
	}
	for p := range r.factories {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}
