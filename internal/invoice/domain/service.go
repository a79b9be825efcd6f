package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
)

type GenerateRequest struct {
	Year int `json:"year" validate:"required,min=1"`
	Week int `json:"week" validate:"required,min=1,max=53"`
}

type Service interface {
	Generate(ctx context.Context, actorID snowflake.ID, req GenerateRequest) (*CompanyInvoice, error)
	MarkSent(ctx context.Context, actorID, id snowflake.ID) (*CompanyInvoice, error)
	MarkPaid(ctx context.Context, actorID, id snowflake.ID) (*CompanyInvoice, error)
	Get(ctx context.Context, id snowflake.ID) (*CompanyInvoice, error)
	ListTasks(ctx context.Context, id snowflake.ID) ([]taskdomain.Task, error)
	RenderHTML(ctx context.Context, id snowflake.ID) (string, error)
}

var (
	ErrNoBillableTasks     = apperror.Conflict("no_billable_tasks", "no billable tasks found for week")
	ErrInvoiceNotFound     = apperror.NotFound("invoice_not_found", "invoice not found")
	ErrInvalidStatus       = apperror.Conflict("invalid_invoice_status", "invoice status does not allow this change")
	ErrInvalidPeriod       = apperror.Validation("invalid_period", "year and week are required")
	ErrInvalidNumberFormat = apperror.Validation("invalid_invoice_number_format", "invoice number format is invalid")
)
