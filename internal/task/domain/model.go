package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskType string

const (
	TaskTypeNewInstall    TaskType = "new_install"
	TaskTypeDropBury      TaskType = "drop_bury"
	TaskTypeServiceCall   TaskType = "service_call"
	TaskTypeServiceChange TaskType = "service_change"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeNewInstall, TaskTypeDropBury, TaskTypeServiceCall, TaskTypeServiceChange:
		return true
	}
	return false
}

type FinancialStatus string

const (
	FinancialStatusBillable    FinancialStatus = "billable"
	FinancialStatusNotBillable FinancialStatus = "not_billable"
)

func (f FinancialStatus) Valid() bool {
	return f == FinancialStatusBillable || f == FinancialStatusNotBillable
}

// Task is a unit of field work. Prices are snapshots; settlement reads them
// as stored.
type Task struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	Title            string          `gorm:"type:varchar(255);not null" json:"title"`
	Address          string          `gorm:"type:varchar(255)" json:"address"`
	TaskType         TaskType        `gorm:"type:varchar(32);not null" json:"task_type"`
	Status           Status          `gorm:"type:varchar(32);not null;index" json:"status"`
	FinancialStatus  FinancialStatus `gorm:"type:varchar(32);not null" json:"financial_status"`
	AssignedTechID   *snowflake.ID   `gorm:"index" json:"assigned_tech_id,omitempty"`
	CompanyPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"company_price"`
	TechPrice        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tech_price"`
	ScheduledDate    *time.Time      `json:"scheduled_date,omitempty"`
	CompletionDate   *time.Time      `gorm:"index" json:"completion_date,omitempty"`
	PayrollID        *snowflake.ID   `gorm:"index" json:"payroll_id,omitempty"`
	CompanyInvoiceID *snowflake.ID   `gorm:"index" json:"company_invoice_id,omitempty"`
	ReturnReason     string          `gorm:"type:text" json:"return_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Task) TableName() string { return "tasks" }

// Claimed reports whether a settlement run already owns the task.
func (t Task) Claimed() bool {
	return t.PayrollID != nil || t.CompanyInvoiceID != nil
}

func (t Task) AssignedTo(userID snowflake.ID) bool {
	return t.AssignedTechID != nil && *t.AssignedTechID == userID
}

// TaskDetail is the 1:1 execution record written by start and complete.
type TaskDetail struct {
	TaskID             snowflake.ID   `gorm:"primaryKey" json:"task_id"`
	InstallationType   string         `gorm:"type:varchar(64)" json:"installation_type,omitempty"`
	Serials            datatypes.JSON `json:"serials,omitempty"`
	DropBuryStatus     bool           `gorm:"not null;default:false" json:"drop_bury_status"`
	SidewalkBoreStatus bool           `gorm:"not null;default:false" json:"sidewalk_bore_status"`
	StartLat           *float64       `json:"start_lat,omitempty"`
	StartLng           *float64       `json:"start_lng,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	EndLat             *float64       `json:"end_lat,omitempty"`
	EndLng             *float64       `json:"end_lng,omitempty"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
	PauseReason        string         `gorm:"type:text" json:"pause_reason,omitempty"`
	Notes              string         `gorm:"type:text" json:"notes,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (TaskDetail) TableName() string { return "task_details" }
