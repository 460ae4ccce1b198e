package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceTransaction is the append-only ledger. One row per balance-affecting
// event; balance_after = balance_before + amount with the sign already applied.
//
// Corrections append new rows. History is never rewritten.
type BalanceTransaction struct {
	ID        int `gorm:"primary_key" json:"id"`
	AccountId int `gorm:"index;not null;index:idx_bt_account_created,priority:1;uniqueIndex:uq_bt_account_extref,priority:1" json:"account_id"`

	// ExternalRef carries the payment-gateway / booking reference when one
	// exists. The unique index makes a retried callback a no-op instead of a
	// double application (MySQL unique indexes ignore NULLs).
	ExternalRef *string `gorm:"size:128;uniqueIndex:uq_bt_account_extref,priority:2" json:"external_ref"`

	TransactionType TransactionType `gorm:"type:enum('payment_received','service_charge','refund_processed','withdrawal','adjustment');not null;index" json:"transaction_type"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`

	Description   string `gorm:"size:255" json:"description"`
	Actor         string `gorm:"size:100;not null" json:"actor"`
	CorrelationId string `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime;index;index:idx_bt_account_created,priority:2" json:"created_at"`
}

// Ledger immutability guardrails: balance_transactions are append-only.

func (t *BalanceTransaction) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: balance_transactions cannot be updated")
}

func (t *BalanceTransaction) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: balance_transactions cannot be deleted")
}
