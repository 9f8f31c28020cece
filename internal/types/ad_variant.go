package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VariantStatusPending = "pending"
	VariantStatusActive  = "active"
	VariantStatusPaused  = "paused"
	VariantStatusFailed  = "failed"
)

// AdVariant is one creative/targeting/platform combination inside a campaign.
// ExternalID is nil until the platform create succeeds and is never rewritten
// afterwards; a variant only becomes active once it is set.
type AdVariant struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"campaign_id"`
	Campaign    *Campaign      `gorm:"constraint:OnDelete:CASCADE;foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Label       string         `gorm:"column:label;not null" json:"label"`
	CreativeKey string         `gorm:"column:creative_key;not null" json:"creative_key"`
	Platform    string         `gorm:"column:platform;not null;index" json:"platform"`
	BudgetCents int64          `gorm:"column:budget_cents;not null" json:"budget_cents"`
	Targeting   datatypes.JSON `gorm:"column:targeting;type:jsonb" json:"targeting"`
	TestGroup   string         `gorm:"column:test_group;not null" json:"test_group"`
	RolloutDay  int            `gorm:"column:rollout_day;not null;default:0" json:"rollout_day"`
	ExternalID  *string        `gorm:"column:external_id" json:"external_id,omitempty"`
	Status      string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AdVariant) TableName() string { return "ad_variant" }
