package models

import (
	"time"
)

// ReconciliationRecord is one row per reconciliation run.
//
// Re-running a date appends a new record (run_at distinguishes them); records
// are never overwritten. AsOf captures the instant the balance reads were
// taken; the ledger is not frozen during the run, so the comparison is only
// meaningful relative to that instant.
type ReconciliationRecord struct {
	ID int `gorm:"primary_key" json:"id"`

	// Date is the calendar date being reconciled (midnight UTC).
	Date  time.Time `gorm:"index;not null" json:"date"`
	RunAt time.Time `gorm:"not null" json:"run_at"`
	AsOf  time.Time `gorm:"not null" json:"as_of"`

	Status ReconciliationStatus `gorm:"type:enum('PENDING','RECONCILED','DISCREPANCY_FOUND','ISSUES_DETECTED');not null;index" json:"status"`

	ExpectedBalances DecimalMap `gorm:"type:json" json:"expected_balances"`
	ActualBalances   DecimalMap `gorm:"type:json" json:"actual_balances"`

	AccountsChecked  int `gorm:"not null;default:0" json:"accounts_checked"`
	DiscrepancyCount int `gorm:"not null;default:0" json:"discrepancy_count"`

	// Issues lists accounts whose comparison could not complete (missing
	// balance row, read failure); any entry forces status ISSUES_DETECTED.
	Issues  StringSlice `gorm:"type:json" json:"issues"`
	Summary string      `gorm:"type:text" json:"summary"`

	DiscrepancyAlerts []DiscrepancyAlert `gorm:"foreignKey:ReconciliationRecordId" json:"discrepancy_alerts"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
