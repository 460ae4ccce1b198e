package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reconcile compares each account's stored balance against the balance
// implied by its transaction history up to the end of the given date, and
// persists one ReconciliationRecord plus one OPEN DiscrepancyAlert per
// out-of-balance account.
//
// Re-running a date appends a new record; history is never overwritten.
// Balances keep moving while the run reads, so the record carries the as-of
// instant its reads were taken.
func (s *Service) Reconcile(ctx context.Context, date time.Time) (*models.ReconciliationRecord, error) {
	cutoff := utils.EndOfDay(date)
	correlationId := s.correlationId(ctx)

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(tctx)

	var asOf time.Time
	var accountIds []int
	expected := models.DecimalMap{}
	actual := models.DecimalMap{}
	var issues models.StringSlice
	var alerts []models.DiscrepancyAlert

	// All reads run in one transaction so InnoDB's REPEATABLE READ gives a
	// single snapshot: a mutation committing mid-run can never make a SUM and
	// its balance read disagree.
	err := db.Transaction(func(tx *gorm.DB) error {
		asOf = time.Now().UTC()

		err := tx.Raw(`
			SELECT DISTINCT account_id
			FROM balance_transactions
			WHERE created_at <= ?
			ORDER BY account_id
		`, cutoff).Scan(&accountIds).Error
		if err != nil {
			return err
		}

		for _, accountId := range accountIds {
			var expectedBalance decimal.Decimal
			err := tx.Raw(`
				SELECT COALESCE(SUM(amount), 0)
				FROM balance_transactions
				WHERE account_id = ? AND created_at <= ?
			`, accountId, cutoff).Scan(&expectedBalance).Error
			if err != nil {
				issues = append(issues, fmt.Sprintf("account %d: failed to sum transactions: %v", accountId, err))
				continue
			}

			var bal models.AccountBalance
			if err := tx.First(&bal, accountId).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// A transaction without its balance row is exactly the kind of
					// inconsistency that must surface as ISSUES_DETECTED, not as a
					// normal discrepancy.
					issues = append(issues, fmt.Sprintf("account %d: balance row missing despite transactions", accountId))
				} else {
					issues = append(issues, fmt.Sprintf("account %d: failed to read balance: %v", accountId, err))
				}
				continue
			}

			key := bal.Ref().Key()
			expected[key] = expectedBalance
			actual[key] = bal.CurrentBalance

			difference := bal.CurrentBalance.Sub(expectedBalance)
			if difference.Abs().GreaterThan(s.cfg.Epsilon) {
				alerts = append(alerts, models.DiscrepancyAlert{
					AccountId:       bal.ID,
					AccountKey:      key,
					ExpectedBalance: expectedBalance,
					ActualBalance:   bal.CurrentBalance,
					Difference:      difference,
					Severity:        classifySeverity(difference, bal.CurrentBalance, s.cfg),
					Status:          models.DiscrepancyStatusOpen,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}

	status := models.ReconciliationStatusReconciled
	if len(alerts) > 0 {
		status = models.ReconciliationStatusDiscrepancyFound
	}
	if len(issues) > 0 {
		status = models.ReconciliationStatusIssuesDetected
	}

	record := models.ReconciliationRecord{
		Date:             utils.StartOfDay(date),
		RunAt:            asOf,
		AsOf:             asOf,
		Status:           status,
		ExpectedBalances: expected,
		ActualBalances:   actual,
		AccountsChecked:  len(accountIds),
		DiscrepancyCount: len(alerts),
		Issues:           issues,
		Summary: fmt.Sprintf("checked %d accounts: %d discrepancies, %d issues",
			len(accountIds), len(alerts), len(issues)),
		CorrelationId: correlationId,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for i := range alerts {
			alerts[i].ReconciliationRecordId = record.ID
			if err := tx.Create(&alerts[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}
	record.DiscrepancyAlerts = alerts

	s.logger.WithFields(logrus.Fields{
		"field":             "Reconcile",
		"date":              record.Date.Format("2006-01-02"),
		"status":            status,
		"accounts_checked":  len(accountIds),
		"discrepancy_count": len(alerts),
		"issue_count":       len(issues),
		"correlation_id":    correlationId,
	}).Info("reconciliation run completed")

	return &record, nil
}

// classifySeverity ranks a discrepancy. A negative stored balance is HIGH no
// matter how small the difference is.
func classifySeverity(difference decimal.Decimal, actualBalance decimal.Decimal, cfg config.FinanceConfig) models.DiscrepancySeverity {
	abs := difference.Abs()
	if abs.GreaterThanOrEqual(cfg.HighThreshold) || actualBalance.IsNegative() {
		return models.DiscrepancySeverityHigh
	}
	if abs.GreaterThanOrEqual(cfg.MediumThreshold) {
		return models.DiscrepancySeverityMedium
	}
	return models.DiscrepancySeverityLow
}
