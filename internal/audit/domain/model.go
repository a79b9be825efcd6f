package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLog records one user-initiated change to settlement data. Rows are
// never updated.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"type:varchar(16);not null" json:"actor_type"`
	ActorID    *snowflake.ID     `gorm:"index" json:"actor_id,omitempty"`
	ActorRole  string            `gorm:"type:varchar(32)" json:"actor_role,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"type:varchar(32);not null;index:idx_audit_target" json:"target_type"`
	TargetID   *string           `gorm:"type:varchar(64);index:idx_audit_target" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// ListFilter narrows a newest-first scan. Zero values do not filter.
type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    *snowflake.ID
	Since      *time.Time
	Until      *time.Time
	BeforeID   snowflake.ID
	Limit      int
}
