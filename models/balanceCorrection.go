package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceCorrection records one admin-applied forced balance change. The
// actual money movement is the adjustment BalanceTransaction it references;
// this row is the audit trail around it.
type BalanceCorrection struct {
	ID        int `gorm:"primary_key" json:"id"`
	AccountId int `gorm:"index;not null" json:"account_id"`

	AdminId   int    `gorm:"not null" json:"admin_id"`
	AdminName string `gorm:"size:100;not null" json:"admin_name"`

	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Difference    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"difference"`

	Reason   string  `gorm:"type:text;not null" json:"reason"`
	Evidence *string `gorm:"type:text" json:"evidence"`

	// TransactionId links the compensating ledger transaction this correction
	// generated. Exactly one correction per transaction.
	TransactionId int `gorm:"uniqueIndex;not null" json:"transaction_id"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Corrections are part of the audit history and immutable after creation.

func (c *BalanceCorrection) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: balance_corrections cannot be updated")
}

func (c *BalanceCorrection) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: balance_corrections cannot be deleted")
}
