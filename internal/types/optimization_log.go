package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OptimizationActionPause = "pause"
	OptimizationActionScale = "scale"
)

// OptimizationLog is append-only: every automated pause/scale decision lands
// here with the numbers that justified it. Rows are never deleted — this is
// the audit trail for "why was this paused".
type OptimizationLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"campaign_id"`
	VariantID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"variant_id"`
	TestGroup   string         `gorm:"column:test_group;not null" json:"test_group"`
	Action      string         `gorm:"column:action;not null" json:"action"`
	CostPerLead float64        `gorm:"column:cost_per_lead;not null" json:"cost_per_lead"`
	WinnerGroup string         `gorm:"column:winner_group;not null" json:"winner_group"`
	Metrics     datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (OptimizationLog) TableName() string { return "optimization_log" }
