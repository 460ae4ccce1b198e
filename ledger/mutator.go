package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/carebook/hospital_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplyInput describes one balance-affecting event. Amount is signed with the
// sign already applied (withdrawals and refunds are negative).
type ApplyInput struct {
	Account     models.AccountRef
	Amount      decimal.Decimal
	Type        models.TransactionType
	ExternalRef *string
	Description string
	Actor       string
}

// Apply is the only path that changes an account balance. It reads the
// current balance, computes the new state, persists it and appends exactly
// one transaction row, all inside one database transaction guarded by a
// per-account advisory lock. A reader can never observe the balance without
// its transaction row or the row without the balance.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (*models.AccountBalance, *models.BalanceTransaction, error) {
	if err := validateApplyInput(input); err != nil {
		return nil, nil, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accountKey := input.Account.Key()
	redisLock := s.obtainAccountLock(tctx, accountKey)
	defer s.releaseAccountLock(context.WithoutCancel(tctx), redisLock, accountKey)

	correlationId := s.correlationId(ctx)

	var bal *models.AccountBalance
	var txn *models.BalanceTransaction
	// The advisory lock is connection-scoped and must outlive COMMIT, so pin
	// one connection, lock on it, and run the transaction inside.
	err := s.db.WithContext(tctx).Connection(func(conn *gorm.DB) error {
		if err := acquireAccountPostingLock(conn, accountKey); err != nil {
			return err
		}
		defer releaseAccountPostingLock(conn, accountKey)

		return conn.Transaction(func(tx *gorm.DB) error {
			var err error
			bal, txn, err = s.applyTx(tx, input, correlationId)
			return err
		})
	})
	if err != nil {
		if isDuplicateKeyErr(err) && input.ExternalRef != nil {
			return nil, nil, &DuplicateExternalRefError{Account: input.Account, ExternalRef: *input.ExternalRef}
		}
		return nil, nil, s.classifyStorageErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"field":          "Apply",
		"account":        accountKey,
		"type":           input.Type,
		"amount":         input.Amount.String(),
		"balance_after":  bal.CurrentBalance.String(),
		"transaction_id": txn.ID,
		"correlation_id": correlationId,
	}).Info("balance mutation applied")

	return bal, txn, nil
}

// applyTx runs the read-compute-write inside an open transaction. The caller
// must already hold the account's posting lock. Correct reuses this so a
// correction commits with its compensating transaction atomically.
func (s *Service) applyTx(tx *gorm.DB, input ApplyInput, correlationId string) (*models.AccountBalance, *models.BalanceTransaction, error) {
	var bal models.AccountBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_kind = ? AND owner_id = ?", input.Account.Kind, input.Account.OwnerId).
		First(&bal).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		// Lazy create: AccountNotFound is never fatal in the mutator.
		bal = models.AccountBalance{
			AccountKind:      input.Account.Kind,
			OwnerId:          input.Account.OwnerId,
			CurrentBalance:   decimal.Zero,
			TotalEarnings:    decimal.Zero,
			TotalWithdrawals: decimal.Zero,
			PendingAmount:    decimal.Zero,
		}
		if err := tx.Create(&bal).Error; err != nil {
			return nil, nil, err
		}
	}

	balanceBefore := bal.CurrentBalance
	balanceAfter := balanceBefore.Add(input.Amount)

	earningsDelta, withdrawalsDelta := routeDerivedTotals(input.Type, input.Amount)
	now := time.Now().UTC()

	res := tx.Model(&models.AccountBalance{}).
		Where("id = ? AND version = ?", bal.ID, bal.Version).
		Updates(map[string]interface{}{
			"current_balance":   balanceAfter,
			"total_earnings":    bal.TotalEarnings.Add(earningsDelta),
			"total_withdrawals": bal.TotalWithdrawals.Add(withdrawalsDelta),
			"version":           bal.Version + 1,
			"last_mutated_at":   now,
		})
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		// The row moved under us despite the advisory lock. Roll back rather
		// than risk a lost update; this is an invariant violation, not a
		// retryable condition.
		return nil, nil, errors.New("concurrent mutation detected: account version changed under posting lock")
	}

	txn := models.BalanceTransaction{
		AccountId:       bal.ID,
		ExternalRef:     input.ExternalRef,
		TransactionType: input.Type,
		Amount:          input.Amount,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
		Description:     input.Description,
		Actor:           input.Actor,
		CorrelationId:   correlationId,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, nil, err
	}

	bal.CurrentBalance = balanceAfter
	bal.TotalEarnings = bal.TotalEarnings.Add(earningsDelta)
	bal.TotalWithdrawals = bal.TotalWithdrawals.Add(withdrawalsDelta)
	bal.Version++
	bal.LastMutatedAt = &now
	return &bal, &txn, nil
}

// routeDerivedTotals maps a transaction onto the cumulative earnings and
// withdrawals bookkeeping: earnings take payment/service-charge amounts,
// withdrawals take abs(amount) of withdrawals and refunds, adjustments route
// by sign.
func routeDerivedTotals(t models.TransactionType, amount decimal.Decimal) (earningsDelta, withdrawalsDelta decimal.Decimal) {
	earningsDelta = decimal.Zero
	withdrawalsDelta = decimal.Zero
	switch t {
	case models.TransactionTypePaymentReceived, models.TransactionTypeServiceCharge:
		earningsDelta = amount
	case models.TransactionTypeWithdrawal, models.TransactionTypeRefundProcessed:
		withdrawalsDelta = amount.Abs()
	case models.TransactionTypeAdjustment:
		if amount.Sign() >= 0 {
			earningsDelta = amount
		} else {
			withdrawalsDelta = amount.Abs()
		}
	}
	return earningsDelta, withdrawalsDelta
}

func validateApplyInput(input ApplyInput) error {
	if !input.Account.Valid() {
		return ErrInvalidAccountRef
	}
	if !input.Type.Valid() {
		return &InvalidTransactionTypeError{Type: input.Type}
	}
	if input.Amount.IsZero() {
		return &InvalidAmountError{Account: input.Account, Amount: input.Amount, Reason: "amount must be non-zero"}
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return &InvalidAmountError{Account: input.Account, Amount: input.Amount, Reason: "more than 2 decimal places"}
	}
	switch input.Type {
	case models.TransactionTypePaymentReceived, models.TransactionTypeServiceCharge:
		if input.Amount.Sign() < 0 {
			return &InvalidAmountError{Account: input.Account, Amount: input.Amount, Reason: "amount must be positive for " + string(input.Type)}
		}
	case models.TransactionTypeWithdrawal, models.TransactionTypeRefundProcessed:
		if input.Amount.Sign() > 0 {
			return &InvalidAmountError{Account: input.Account, Amount: input.Amount, Reason: "amount must be negative for " + string(input.Type)}
		}
	}
	if input.Actor == "" {
		return errors.New("actor is required")
	}
	return nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
