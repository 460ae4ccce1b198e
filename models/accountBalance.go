package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountRef is the one way to name a ledger account anywhere a balance is
// mutated or queried. The booking side historically passed user ids in some
// places and balance-record ids in others; everything now goes through this.
type AccountRef struct {
	Kind    AccountKind `json:"kind"`
	OwnerId string      `json:"owner_id"`
}

// Key is the stable string form used for lock names and reconciliation maps.
func (r AccountRef) Key() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.OwnerId)
}

func (r AccountRef) Valid() bool {
	return r.Kind.Valid() && r.OwnerId != ""
}

// AccountBalance is one row per (account holder, kind). It is created lazily
// on first transaction and never deleted.
//
// Invariant (verified by reconciliation): current_balance equals the sum of
// all amount fields of the account's balance_transactions.
//
// Only the ledger mutator writes this table.
type AccountBalance struct {
	ID          int         `gorm:"primary_key" json:"id"`
	AccountKind AccountKind `gorm:"type:enum('patient','hospital','platform');not null;uniqueIndex:uq_ab_kind_owner,priority:1" json:"account_kind"`
	OwnerId     string      `gorm:"size:64;not null;uniqueIndex:uq_ab_kind_owner,priority:2" json:"owner_id"`

	CurrentBalance   decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"current_balance"`
	TotalEarnings    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_earnings"`
	TotalWithdrawals decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_withdrawals"`
	PendingAmount    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"pending_amount"`

	// Version increments on every mutation; the mutator's UPDATE is guarded on
	// it so a lost advisory lock can never silently overwrite a newer state.
	Version       int64      `gorm:"not null;default:0" json:"version"`
	LastMutatedAt *time.Time `gorm:"index" json:"last_mutated_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b AccountBalance) Ref() AccountRef {
	return AccountRef{Kind: b.AccountKind, OwnerId: b.OwnerId}
}
