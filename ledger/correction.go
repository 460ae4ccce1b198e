package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carebook/hospital_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CorrectionInput is an admin-gated request to force a balance to a target
// value. ClaimedCurrentBalance is what the operator believes the balance is;
// a mismatch with the stored value rejects the correction outright.
type CorrectionInput struct {
	Account               models.AccountRef
	ClaimedCurrentBalance decimal.Decimal
	TargetBalance         decimal.Decimal
	Reason                string
	Evidence              *string
	AdminId               int
	AdminName             string
}

// Correct forces an account balance to TargetBalance. The delta is applied
// through the mutator as an adjustment transaction, so corrections are ledger
// entries like everything else; the BalanceCorrection row is the audit trail
// linking to that transaction. The whole operation commits atomically under
// the account's posting lock.
//
// The caller must already be privilege-checked; only business invariants are
// enforced here.
func (s *Service) Correct(ctx context.Context, input CorrectionInput) (*models.BalanceCorrection, error) {
	if !input.Account.Valid() {
		return nil, ErrInvalidAccountRef
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, errors.New("correction reason is required")
	}
	if strings.TrimSpace(input.AdminName) == "" {
		return nil, errors.New("admin identity is required")
	}
	if !input.TargetBalance.Equal(input.TargetBalance.Round(2)) {
		return nil, &InvalidAmountError{Account: input.Account, Amount: input.TargetBalance, Reason: "more than 2 decimal places"}
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accountKey := input.Account.Key()
	redisLock := s.obtainAccountLock(tctx, accountKey)
	defer s.releaseAccountLock(context.WithoutCancel(tctx), redisLock, accountKey)

	correlationId := s.correlationId(ctx)

	var correction models.BalanceCorrection
	// Same locking discipline as Apply: the advisory lock is held on a pinned
	// connection until after the posting transaction commits.
	err := s.db.WithContext(tctx).Connection(func(conn *gorm.DB) error {
		if err := acquireAccountPostingLock(conn, accountKey); err != nil {
			return err
		}
		defer releaseAccountPostingLock(conn, accountKey)

		return conn.Transaction(func(tx *gorm.DB) error {
			var bal models.AccountBalance
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("account_kind = ? AND owner_id = ?", input.Account.Kind, input.Account.OwnerId).
				First(&bal).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrAccountNotFound, accountKey)
				}
				return err
			}

			// Compare against the stored balance, not the caller's claim.
			if !bal.CurrentBalance.Equal(input.ClaimedCurrentBalance) {
				return &StaleBalanceError{
					Account: input.Account,
					Claimed: input.ClaimedCurrentBalance,
					Stored:  bal.CurrentBalance,
				}
			}

			delta := input.TargetBalance.Sub(bal.CurrentBalance)
			if delta.IsZero() {
				return &InvalidAmountError{
					Account: input.Account,
					Amount:  input.TargetBalance,
					Reason:  "target balance equals stored balance",
				}
			}

			_, txn, err := s.applyTx(tx, ApplyInput{
				Account:     input.Account,
				Amount:      delta,
				Type:        models.TransactionTypeAdjustment,
				Description: fmt.Sprintf("balance correction by %s: %s", input.AdminName, input.Reason),
				Actor:       input.AdminName,
			}, correlationId)
			if err != nil {
				return err
			}

			correction = models.BalanceCorrection{
				AccountId:     bal.ID,
				AdminId:       input.AdminId,
				AdminName:     input.AdminName,
				BalanceBefore: txn.BalanceBefore,
				BalanceAfter:  txn.BalanceAfter,
				Difference:    delta,
				Reason:        input.Reason,
				Evidence:      input.Evidence,
				TransactionId: txn.ID,
				CorrelationId: correlationId,
			}
			return tx.Create(&correction).Error
		})
	})
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"field":          "Correct",
		"account":        accountKey,
		"admin":          input.AdminName,
		"balance_before": correction.BalanceBefore.String(),
		"balance_after":  correction.BalanceAfter.String(),
		"transaction_id": correction.TransactionId,
		"correlation_id": correlationId,
	}).Info("balance correction applied")

	return &correction, nil
}
