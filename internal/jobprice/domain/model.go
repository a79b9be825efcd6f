package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
)

// JobPrice is the editable default price pair for a task type.
type JobPrice struct {
	ID           snowflake.ID        `gorm:"primaryKey" json:"id"`
	TaskType     taskdomain.TaskType `gorm:"type:varchar(32);not null;uniqueIndex" json:"task_type"`
	CompanyPrice decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"company_price"`
	TechPrice    decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"tech_price"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (JobPrice) TableName() string { return "job_prices" }

type UpsertRequest struct {
	TaskType     taskdomain.TaskType `json:"task_type"`
	CompanyPrice decimal.Decimal     `json:"company_price"`
	TechPrice    decimal.Decimal     `json:"tech_price"`
}

type Service interface {
	Upsert(ctx context.Context, actorID snowflake.ID, req UpsertRequest) (*JobPrice, error)
	// Lookup returns nil without error when no price is configured.
	Lookup(ctx context.Context, taskType taskdomain.TaskType) (*JobPrice, error)
	List(ctx context.Context) ([]JobPrice, error)
}

var (
	ErrInvalidTaskType = apperror.Validation("invalid_task_type", "unknown task type")
	ErrNegativePrice   = apperror.Validation("negative_price", "prices must not be negative")
)
