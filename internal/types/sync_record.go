package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SyncStatusSynced    = "synced"
	SyncStatusDuplicate = "duplicate"
	SyncStatusFailed    = "failed"
)

// SyncRecord projects the outcome of a CRM sync job for auditability and
// duplicate detection across retries.
type SyncRecord struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EntityID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	UserID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	SyncType          string         `gorm:"column:sync_type;not null" json:"sync_type"`
	ExternalContactID string         `gorm:"column:external_contact_id;index" json:"external_contact_id"`
	Status            string         `gorm:"column:status;not null" json:"status"`
	Detail            datatypes.JSON `gorm:"column:detail;type:jsonb" json:"detail"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (SyncRecord) TableName() string { return "sync_record" }
