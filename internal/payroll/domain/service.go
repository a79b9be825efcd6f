package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
)

type GenerateRequest struct {
	Year         int           `json:"year"`
	Week         int           `json:"week"`
	TechnicianID *snowflake.ID `json:"technician_id"`
}

// GenerateResult lists the drafts written and the technicians skipped
// because their payroll for the week is already paid. On a failed run it
// holds what was committed before the failure.
type GenerateResult struct {
	Payrolls []Payroll      `json:"payrolls"`
	Skipped  []snowflake.ID `json:"skipped"`
}

// AdjustmentsRequest edits the manual fields. ClearOverride drops an
// existing override so system deductions apply again.
type AdjustmentsRequest struct {
	Bonus             *decimal.Decimal `json:"bonus_amount"`
	DeductionOverride *decimal.Decimal `json:"deduction_override"`
	ClearOverride     bool             `json:"clear_override"`
}

type Service interface {
	Generate(ctx context.Context, actorID snowflake.ID, req GenerateRequest) (GenerateResult, error)
	Recalculate(ctx context.Context, actorID, id snowflake.ID) (*Payroll, error)
	UpdateAdjustments(ctx context.Context, actorID, id snowflake.ID, req AdjustmentsRequest) (*Payroll, error)
	Approve(ctx context.Context, actorID, id snowflake.ID) (*Payroll, error)
	Get(ctx context.Context, id snowflake.ID) (*Payroll, error)
	ListForWeek(ctx context.Context, year, week int) ([]Payroll, error)
	ExportWeek(ctx context.Context, actorID snowflake.ID, year, week int, w io.Writer) error
}

var (
	ErrPayrollNotFound   = apperror.NotFound("payroll_not_found", "payroll not found")
	ErrPayrollNotDraft   = apperror.Conflict("payroll_not_draft", "payroll is already paid")
	ErrInvalidAdjustment = apperror.Validation("invalid_adjustment", "bonus and override must not be negative")
	ErrInvalidTechnician = apperror.Validation("invalid_technician", "payroll requires an active technician")
)
