package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaid   Status = "paid"
)

// Loan is an advance to a technician repaid through weekly payroll
// deductions. The principal is fixed once the schedule exists.
type Loan struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	TechnicianID      snowflake.ID    `gorm:"not null;index" json:"technician_id"`
	AmountTotal       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_total"`
	InstallmentsCount int             `gorm:"not null" json:"installments_count"`
	StartDate         time.Time       `gorm:"not null" json:"start_date"`
	Status            Status          `gorm:"type:varchar(16);not null" json:"status"`
	Note              string          `gorm:"type:text" json:"note,omitempty"`
	CreatedBy         *snowflake.ID   `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Loan) TableName() string { return "loans" }

type Installment struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	LoanID    snowflake.ID    `gorm:"not null;index" json:"loan_id"`
	Sequence  int             `gorm:"not null" json:"sequence"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	DueDate   time.Time       `gorm:"not null;index" json:"due_date"`
	Paid      bool            `gorm:"not null;default:false" json:"paid"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	PayrollID *snowflake.ID   `gorm:"index" json:"payroll_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (Installment) TableName() string { return "loan_installments" }
