package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PendingReview captures an intended platform operation when sandbox mode is
// on, so a human can audit what would have been sent before real spend occurs.
type PendingReview struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Platform   string         `gorm:"column:platform;not null;index" json:"platform"`
	Operation  string         `gorm:"column:operation;not null" json:"operation"`
	ExternalID string         `gorm:"column:external_id" json:"external_id"`
	Request    datatypes.JSON `gorm:"column:request;type:jsonb" json:"request"`
	Reviewed   bool           `gorm:"column:reviewed;not null;default:false" json:"reviewed"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (PendingReview) TableName() string { return "pending_review" }
