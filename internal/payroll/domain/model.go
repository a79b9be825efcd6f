package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft Status = "draft"
	StatusPaid  Status = "paid"
)

// Payroll is one technician's pay for one week. Draft payrolls are
// recalculated freely; paid payrolls are frozen.
type Payroll struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"id"`
	TechnicianID      snowflake.ID        `gorm:"not null;uniqueIndex:ux_payroll_tech_week" json:"technician_id"`
	Week              int                 `gorm:"not null;uniqueIndex:ux_payroll_tech_week" json:"week"`
	Year              int                 `gorm:"not null;uniqueIndex:ux_payroll_tech_week" json:"year"`
	GrossAmount       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"gross_amount"`
	BonusAmount       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"bonus_amount"`
	DeductionsAmount  decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"deductions_amount"`
	DeductionOverride decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"deduction_override"`
	NetPay            decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"net_pay"`
	TaskCount         int                 `gorm:"not null;default:0" json:"task_count"`
	Status            Status              `gorm:"type:varchar(16);not null;index" json:"status"`
	ApprovedBy        *snowflake.ID       `json:"approved_by,omitempty"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func (Payroll) TableName() string { return "payrolls" }

// Totals is the result of one recalculation.
type Totals struct {
	TasksTotal       decimal.Decimal
	Gross            decimal.Decimal
	SystemDeductions decimal.Decimal
	Deductions       decimal.Decimal
	Net              decimal.Decimal
}

// Compute derives gross, deductions and net pay. A present override wins
// over the system deductions even when it is zero.
func Compute(tasksTotal, bonus, systemDeductions decimal.Decimal, override decimal.NullDecimal) Totals {
	gross := tasksTotal.Add(bonus).Round(2)
	deductions := systemDeductions.Round(2)
	if override.Valid {
		deductions = override.Decimal.Round(2)
	}
	return Totals{
		TasksTotal:       tasksTotal.Round(2),
		Gross:            gross,
		SystemDeductions: systemDeductions.Round(2),
		Deductions:       deductions,
		Net:              gross.Sub(deductions).Round(2),
	}
}
