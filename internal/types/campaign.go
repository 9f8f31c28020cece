package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusCanceled  = "canceled"
)

// Campaign is the internal desired state for one A/B test across one or more
// ad platforms. Budgets are integer minor-currency units (cents). Fields other
// than status/timing are mutable only while the campaign is draft.
type Campaign struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Objective        string         `gorm:"column:objective;not null" json:"objective"`
	BudgetTotalCents int64          `gorm:"column:budget_total_cents;not null" json:"budget_total_cents"`
	Platforms        datatypes.JSON `gorm:"column:platforms;type:jsonb" json:"platforms"`
	Audience         datatypes.JSON `gorm:"column:audience;type:jsonb" json:"audience"`
	Status           string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	TestGroups       int            `gorm:"column:test_groups;not null;default:2" json:"test_groups"`
	TestDurationDays int            `gorm:"column:test_duration_days;not null;default:7" json:"test_duration_days"`
	AutoOptimize     bool           `gorm:"column:auto_optimize;not null;default:false" json:"auto_optimize"`
	StartedAt        *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Campaign) TableName() string { return "campaign" }
