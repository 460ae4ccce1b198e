package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FinanceConfig carries the tunables of the ledger subsystem.
// Everything here used to be a magic number; keep it configuration.
//
// Env overrides (optional):
// - FIN_EPSILON (default "0.01", smallest representable currency unit)
// - FIN_MEDIUM_THRESHOLD (default "100")
// - FIN_HIGH_THRESHOLD (default "1000")
// - FIN_VOLUME_ANOMALY_MULTIPLE (default 3)
// - FIN_STORAGE_TIMEOUT_SECONDS (default 15)
type FinanceConfig struct {
	// Epsilon is the tolerance below which a balance difference is not a discrepancy.
	Epsilon decimal.Decimal
	// MediumThreshold / HighThreshold classify discrepancy severity by abs(difference).
	MediumThreshold decimal.Decimal
	HighThreshold   decimal.Decimal
	// VolumeAnomalyMultiple flags a health alert when the current-period
	// transaction count exceeds the trailing daily baseline by this multiple.
	VolumeAnomalyMultiple int
	// StorageTimeout bounds every ledger storage call.
	StorageTimeout time.Duration
}

func LoadFinanceConfig() FinanceConfig {
	return FinanceConfig{
		Epsilon:               decimalFromEnv("FIN_EPSILON", "0.01"),
		MediumThreshold:       decimalFromEnv("FIN_MEDIUM_THRESHOLD", "100"),
		HighThreshold:         decimalFromEnv("FIN_HIGH_THRESHOLD", "1000"),
		VolumeAnomalyMultiple: intFromEnv("FIN_VOLUME_ANOMALY_MULTIPLE", 3),
		StorageTimeout:        time.Duration(intFromEnv("FIN_STORAGE_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
