package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/carebook/hospital_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// HealthCheck aggregates ledger-wide anomaly signals into one point-in-time
// snapshot without mutating any balance: negative balances, open
// discrepancies by severity, transaction-volume anomalies against a trailing
// 7-day baseline, and the platform-wide ledger-sum invariant.
func (s *Service) HealthCheck(ctx context.Context) (*models.FinancialHealthCheck, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(tctx)

	now := time.Now().UTC()
	correlationId := s.correlationId(ctx)

	var metrics models.HealthMetrics
	var alerts models.StringSlice

	if err := db.Model(&models.AccountBalance{}).
		Where("current_balance < 0").
		Count(&metrics.NegativeBalanceCount).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}
	if metrics.NegativeBalanceCount > 0 {
		alerts = append(alerts, fmt.Sprintf("%d accounts with negative balance", metrics.NegativeBalanceCount))
	}

	type severityCount struct {
		Severity models.DiscrepancySeverity
		Cnt      int64
	}
	var severityCounts []severityCount
	err := db.Raw(`
		SELECT severity, COUNT(*) AS cnt
		FROM discrepancy_alerts
		WHERE status = 'OPEN'
		GROUP BY severity
	`).Scan(&severityCounts).Error
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}
	for _, sc := range severityCounts {
		switch sc.Severity {
		case models.DiscrepancySeverityLow:
			metrics.OpenDiscrepancyLow = sc.Cnt
		case models.DiscrepancySeverityMedium:
			metrics.OpenDiscrepancyMedium = sc.Cnt
		case models.DiscrepancySeverityHigh:
			metrics.OpenDiscrepancyHigh = sc.Cnt
		}
	}
	if metrics.OpenDiscrepancyHigh > 0 {
		alerts = append(alerts, fmt.Sprintf("%d HIGH severity discrepancies open", metrics.OpenDiscrepancyHigh))
	}

	// Volume anomaly: current 24h count vs the trailing week's daily average.
	if err := db.Model(&models.BalanceTransaction{}).
		Where("created_at > ?", now.Add(-24*time.Hour)).
		Count(&metrics.TransactionCount24h).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}
	var trailingCount int64
	err = db.Model(&models.BalanceTransaction{}).
		Where("created_at > ? AND created_at <= ?", now.Add(-8*24*time.Hour), now.Add(-24*time.Hour)).
		Count(&trailingCount).Error
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}
	metrics.BaselineDailyCount = float64(trailingCount) / 7.0
	baseline := metrics.BaselineDailyCount
	if baseline < 1 {
		baseline = 1
	}
	metrics.VolumeAnomaly = float64(metrics.TransactionCount24h) > baseline*float64(s.cfg.VolumeAnomalyMultiple)
	if metrics.VolumeAnomaly {
		alerts = append(alerts, fmt.Sprintf("transaction volume anomaly: %d in 24h vs baseline %.1f/day",
			metrics.TransactionCount24h, metrics.BaselineDailyCount))
	}

	// Platform-wide invariant: sum of balances == sum of all net amounts.
	var balanceSum, transactionSum decimal.Decimal
	if err := db.Raw(`SELECT COALESCE(SUM(current_balance), 0) FROM account_balances`).Scan(&balanceSum).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}
	if err := db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM balance_transactions`).Scan(&transactionSum).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}
	metrics.TotalBalanceSum = balanceSum
	metrics.TotalTransactionSum = transactionSum
	metrics.LedgerSumDrift = balanceSum.Sub(transactionSum)
	metrics.LedgerInvariantHolds = metrics.LedgerSumDrift.Abs().LessThanOrEqual(s.cfg.Epsilon)
	if !metrics.LedgerInvariantHolds {
		alerts = append(alerts, fmt.Sprintf("ledger sum invariant broken: balances total %s vs transactions total %s",
			balanceSum.String(), transactionSum.String()))
	}

	status := models.HealthStatusHealthy
	if metrics.NegativeBalanceCount > 0 || metrics.OpenDiscrepancyHigh > 0 || metrics.VolumeAnomaly || !metrics.LedgerInvariantHolds {
		status = models.HealthStatusIssuesDetected
	}

	check := models.FinancialHealthCheck{
		CheckedAt:     now,
		Status:        status,
		Metrics:       metrics,
		Alerts:        alerts,
		CorrelationId: correlationId,
	}
	if err := db.Create(&check).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"field":          "HealthCheck",
		"status":         status,
		"alerts":         len(alerts),
		"correlation_id": correlationId,
	}).Info("financial health check completed")

	return &check, nil
}
