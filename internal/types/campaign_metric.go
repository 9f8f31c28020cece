package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	MetricSourceExpected = "expected"
	MetricSourceActual   = "actual"
)

// CampaignMetric is one row of the insert-only performance ledger. Expected
// rows are seeded at creation from platform benchmarks; actual rows are
// appended by polling. Rows are never updated, so optimization decisions stay
// reproducible against a fixed ledger.
type CampaignMetric struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"campaign_id"`
	VariantID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"variant_id"`
	Platform      string     `gorm:"column:platform;not null" json:"platform"`
	Date          time.Time  `gorm:"column:date;not null;index" json:"date"`
	Source        string     `gorm:"column:source;not null;index" json:"source"`
	Impressions   int64      `gorm:"column:impressions;not null;default:0" json:"impressions"`
	Clicks        int64      `gorm:"column:clicks;not null;default:0" json:"clicks"`
	Conversions   int64      `gorm:"column:conversions;not null;default:0" json:"conversions"`
	SpendCents    int64      `gorm:"column:spend_cents;not null;default:0" json:"spend_cents"`
	CTR           float64    `gorm:"column:ctr;not null;default:0" json:"ctr"`
	CPC           float64    `gorm:"column:cpc;not null;default:0" json:"cpc"`
	CPM           float64    `gorm:"column:cpm;not null;default:0" json:"cpm"`
	CostPerLead   float64    `gorm:"column:cost_per_lead;not null;default:0" json:"cost_per_lead"`
	ReturnOnSpend float64    `gorm:"column:return_on_spend;not null;default:0" json:"return_on_spend"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (CampaignMetric) TableName() string { return "campaign_metric" }
