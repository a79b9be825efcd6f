package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorID    *snowflake.ID
	Since      *time.Time
	Until      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service appends and lists audit entries. AuditLog is called after the
// audited transaction commits; a failure there is logged by the caller and
// never undoes the change.
type Service interface {
	AuditLog(ctx context.Context, actorID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidPageToken = apperror.Validation("invalid_page_token", "invalid page token")
	ErrInvalidAction    = apperror.Validation("invalid_action", "audit action is required")
	ErrInvalidRange     = apperror.Validation("invalid_range", "since must not be after until")
)
