package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
)

type CreateTaskRequest struct {
	Title           string           `json:"title" validate:"required,max=255"`
	Address         string           `json:"address" validate:"max=255"`
	TaskType        TaskType         `json:"task_type" validate:"required"`
	FinancialStatus FinancialStatus  `json:"financial_status"`
	AssignedTechID  *snowflake.ID    `json:"assigned_tech_id"`
	ScheduledDate   *time.Time       `json:"scheduled_date"`
	CompanyPrice    *decimal.Decimal `json:"company_price"`
}

// UpdateTaskRequest patches editable fields. Nil fields are left untouched.
type UpdateTaskRequest struct {
	Title           *string          `json:"title" validate:"omitempty,max=255"`
	Address         *string          `json:"address" validate:"omitempty,max=255"`
	TaskType        *TaskType        `json:"task_type"`
	FinancialStatus *FinancialStatus `json:"financial_status"`
	ScheduledDate   *time.Time       `json:"scheduled_date"`
	CompanyPrice    *decimal.Decimal `json:"company_price"`
}

type StartRequest struct {
	Lat       float64    `json:"lat" validate:"latitude"`
	Lng       float64    `json:"lng" validate:"longitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type PauseRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type InventoryUsage struct {
	ItemID   snowflake.ID `json:"item_id" validate:"required"`
	Quantity int64        `json:"quantity" validate:"gt=0"`
}

type CompleteRequest struct {
	EndLat           float64          `json:"end_lat" validate:"latitude"`
	EndLng           float64          `json:"end_lng" validate:"longitude"`
	InstallationType string           `json:"installation_type" validate:"max=64"`
	DropBury         bool             `json:"drop_bury"`
	SidewalkBore     bool             `json:"sidewalk_bore"`
	Serials          []string         `json:"serials" validate:"omitempty,dive,max=128"`
	Notes            string           `json:"notes" validate:"max=4000"`
	InventoryUsed    []InventoryUsage `json:"inventory_used" validate:"omitempty,dive"`
	Timestamp        *time.Time       `json:"timestamp"`
}

type ListTasksRequest struct {
	pagination.Pagination
	Status         Status
	AssignedTechID *snowflake.ID
}

type ListTasksResponse struct {
	pagination.PageInfo
	Tasks []Task `json:"tasks"`
}

type Service interface {
	Create(ctx context.Context, actorID snowflake.ID, req CreateTaskRequest) (*Task, error)
	Update(ctx context.Context, actorID, id snowflake.ID, req UpdateTaskRequest) (*Task, error)
	Get(ctx context.Context, id snowflake.ID) (*Task, *TaskDetail, error)
	List(ctx context.Context, req ListTasksRequest) (ListTasksResponse, error)
	Assign(ctx context.Context, actorID, id, technicianID snowflake.ID) (*Task, error)
	Start(ctx context.Context, actorID, id snowflake.ID, req StartRequest) (*Task, error)
	Pause(ctx context.Context, actorID, id snowflake.ID, req PauseRequest) (*Task, error)
	Complete(ctx context.Context, actorID, id snowflake.ID, req CompleteRequest) (*Task, error)
	Approve(ctx context.Context, actorID, id snowflake.ID) (*Task, error)
	ReturnForFix(ctx context.Context, actorID, id snowflake.ID, reason string) (*Task, error)
	Cancel(ctx context.Context, actorID, id snowflake.ID) (*Task, error)
	Delete(ctx context.Context, actorID, id snowflake.ID) error
	Restore(ctx context.Context, actorID, id snowflake.ID) (*Task, error)
}

var (
	ErrTaskNotFound       = apperror.NotFound("task_not_found", "task not found")
	ErrInvalidTransition  = apperror.Conflict("invalid_task_transition", "task status does not allow this action")
	ErrNotAssignedTech    = apperror.Authorization("not_assigned_technician", "actor is not the assigned technician")
	ErrInvalidTaskType    = apperror.Validation("invalid_task_type", "unknown task type")
	ErrInvalidFinancial   = apperror.Validation("invalid_financial_status", "unknown financial status")
	ErrInvalidTask        = apperror.Validation("invalid_task", "task input is invalid")
	ErrInvalidTechnician  = apperror.Validation("invalid_technician", "assignee must be an active technician")
	ErrTaskClaimed        = apperror.Conflict("task_claimed", "task is linked to a payroll or invoice")
	ErrNegativePrice      = apperror.Validation("negative_price", "price must not be negative")
	ErrTaskNotDeleted     = apperror.Conflict("task_not_deleted", "task is not deleted")
	ErrReturnReasonNeeded = apperror.Validation("return_reason_required", "a reason is required to return a task")
	ErrInvalidPageToken   = apperror.Validation("invalid_page_token", "page token is invalid")
)
