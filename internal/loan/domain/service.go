package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
)

type CreateLoanRequest struct {
	TechnicianID      snowflake.ID    `json:"technician_id" validate:"required"`
	AmountTotal       decimal.Decimal `json:"amount_total"`
	InstallmentsCount int             `json:"installments_count"`
	StartDate         time.Time       `json:"start_date" validate:"required"`
	Note              string          `json:"note" validate:"max=1000"`
}

type Service interface {
	Create(ctx context.Context, actorID snowflake.ID, req CreateLoanRequest) (*Loan, []Installment, error)
	Get(ctx context.Context, id snowflake.ID) (*Loan, error)
	ListInstallments(ctx context.Context, loanID snowflake.ID) ([]Installment, error)
	ListByTechnician(ctx context.Context, technicianID snowflake.ID) ([]Loan, error)
}

var (
	ErrLoanNotFound            = apperror.NotFound("loan_not_found", "loan not found")
	ErrInvalidInstallmentCount = apperror.Validation("invalid_installments_count", "installments count must be positive")
	ErrInvalidAmount           = apperror.Validation("invalid_loan_amount", "loan amount must be positive")
	ErrInvalidTechnician       = apperror.Validation("invalid_technician", "loans are issued to active technicians only")
)
