package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyAlert is one row per account found out of balance during a
// reconciliation run.
//
// Lifecycle: created OPEN, transitions to RESOLVED or IGNORED exactly once,
// never reopened. A later run that still sees the divergence creates a fresh
// alert.
type DiscrepancyAlert struct {
	ID                     int    `gorm:"primary_key" json:"id"`
	ReconciliationRecordId int    `gorm:"index;not null" json:"reconciliation_record_id"`
	AccountId              int    `gorm:"index;not null" json:"account_id"`
	AccountKey             string `gorm:"size:80;index" json:"account_key"`

	ExpectedBalance decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"expected_balance"`
	ActualBalance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"actual_balance"`
	// Difference = actual - expected, sign preserved.
	Difference decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"difference"`

	Severity DiscrepancySeverity `gorm:"type:enum('LOW','MEDIUM','HIGH');not null;index:idx_da_status_severity,priority:2" json:"severity"`
	Status   DiscrepancyStatus   `gorm:"type:enum('OPEN','RESOLVED','IGNORED');not null;default:'OPEN';index:idx_da_status_severity,priority:1" json:"status"`

	ResolvedBy      *string    `gorm:"size:100" json:"resolved_by"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	ResolutionNotes *string    `gorm:"type:text" json:"resolution_notes"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
