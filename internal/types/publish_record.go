package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	PublishStatusPublished = "published"
	PublishStatusPartial   = "partial"
	PublishStatusFailed    = "failed"
)

// PublishRecord is the idempotency projection for publish jobs: one row per
// (unit, platform), upserted on retry so a re-run never duplicates a platform
// that already succeeded.
type PublishRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UnitID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_publish_unit_platform" json:"unit_id"`
	Platform    string         `gorm:"column:platform;not null;uniqueIndex:idx_publish_unit_platform" json:"platform"`
	ExternalID  string         `gorm:"column:external_id" json:"external_id"`
	Status      string         `gorm:"column:status;not null" json:"status"`
	Diagnostics datatypes.JSON `gorm:"column:diagnostics;type:jsonb" json:"diagnostics"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (PublishRecord) TableName() string { return "publish_record" }
