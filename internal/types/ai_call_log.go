package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AICallLog struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CallType      string         `gorm:"column:call_type;not null" json:"call_type"`
	Model         string         `gorm:"column:model;not null" json:"model"`
	TokensUsed    int64          `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	EstimatedCost float64        `gorm:"column:estimated_cost;not null;default:0" json:"estimated_cost"`
	Success       bool           `gorm:"column:success;not null" json:"success"`
	FallbackUsed  bool           `gorm:"column:fallback_used;not null;default:false" json:"fallback_used"`
	Error         string         `gorm:"column:error" json:"error"`
	Usage         datatypes.JSON `gorm:"type:jsonb;column:usage" json:"usage"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
