package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HealthMetrics is the structured payload of one health sweep.
type HealthMetrics struct {
	NegativeBalanceCount   int64           `json:"negative_balance_count"`
	OpenDiscrepancyLow     int64           `json:"open_discrepancy_low"`
	OpenDiscrepancyMedium  int64           `json:"open_discrepancy_medium"`
	OpenDiscrepancyHigh    int64           `json:"open_discrepancy_high"`
	TransactionCount24h    int64           `json:"transaction_count_24h"`
	BaselineDailyCount     float64         `json:"baseline_daily_count"`
	VolumeAnomaly          bool            `json:"volume_anomaly"`
	TotalBalanceSum        decimal.Decimal `json:"total_balance_sum"`
	TotalTransactionSum    decimal.Decimal `json:"total_transaction_sum"`
	LedgerSumDrift         decimal.Decimal `json:"ledger_sum_drift"`
	LedgerInvariantHolds   bool            `json:"ledger_invariant_holds"`
}

func (m HealthMetrics) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *HealthMetrics) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("cannot scan %T into HealthMetrics", value)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, m)
}

// FinancialHealthCheck is one row per health sweep, append-only.
type FinancialHealthCheck struct {
	ID        int          `gorm:"primary_key" json:"id"`
	CheckedAt time.Time    `gorm:"index;not null" json:"checked_at"`
	Status    HealthStatus `gorm:"type:enum('HEALTHY','ISSUES_DETECTED');not null;index" json:"status"`

	Metrics HealthMetrics `gorm:"type:json" json:"metrics"`
	Alerts  StringSlice   `gorm:"type:json" json:"alerts"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
