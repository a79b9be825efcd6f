// Package domain contains persistence models for company invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents the company invoice lifecycle.
type Status string

const (
	StatusDraft Status = "draft"
	StatusSent  Status = "sent"
	StatusPaid  Status = "paid"
)

// CompanyInvoice bills the customer for every approved, billable task
// completed in one week. The total is fixed at generation time.
type CompanyInvoice struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceNumber string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"invoice_number"`
	Week          int             `gorm:"not null;index:ix_company_invoice_week" json:"week"`
	Year          int             `gorm:"not null;index:ix_company_invoice_week" json:"year"`
	PeriodStart   time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd     time.Time       `gorm:"not null" json:"period_end"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	TaskCount     int             `gorm:"not null" json:"task_count"`
	Status        Status          `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`
	CreatedBy     snowflake.ID    `gorm:"not null" json:"created_by"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName sets the database table name.
func (CompanyInvoice) TableName() string { return "company_invoices" }

// InvoiceCounter is the locked sequence row behind invoice numbers.
type InvoiceCounter struct {
	Name  string `gorm:"primaryKey;type:varchar(32)"`
	Value int64  `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (InvoiceCounter) TableName() string { return "invoice_counters" }

// CounterCompany names the counter used for company invoices.
const CounterCompany = "company_invoice"
