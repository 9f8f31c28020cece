package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	QueuePublish  = "publish"
	QueueCRMSync  = "crm_sync"
	QueueOptimize = "optimize"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusDead      = "dead"
	JobStatusCanceled  = "canceled"
)

// JobRun is the durable queue envelope. A failed job is eligible for another
// claim until Attempts reaches the ceiling, at which point it is moved to the
// terminal dead status and never claimed again. RetryAfter is a lower bound on
// the next attempt, set from upstream Retry-After headers when present.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Queue       string         `gorm:"column:queue;not null;index" json:"queue"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Status      string         `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	RetryAfter  *time.Time     `gorm:"column:retry_after" json:"retry_after,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }
