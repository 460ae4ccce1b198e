package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/carebook/hospital_backend/models"
)

// AuditReport is a read-only projection over ledger activity in a window.
// Both slices are ordered by timestamp descending.
type AuditReport struct {
	Start        time.Time                   `json:"start"`
	End          time.Time                   `json:"end"`
	GeneratedAt  time.Time                   `json:"generated_at"`
	Transactions []models.BalanceTransaction `json:"transactions"`
	Corrections  []models.BalanceCorrection  `json:"corrections"`
}

// AuditReport projects every transaction and correction with
// start <= created_at <= end. No side effects; nothing outside the window is
// exposed.
func (s *Service) AuditReport(ctx context.Context, start time.Time, end time.Time) (*AuditReport, error) {
	if end.Before(start) {
		return nil, errors.New("audit range end precedes start")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(tctx)

	report := AuditReport{
		Start:       start,
		End:         end,
		GeneratedAt: time.Now().UTC(),
	}

	err := db.Where("created_at >= ? AND created_at <= ?", start, end).
		Order("created_at DESC, id DESC").
		Find(&report.Transactions).Error
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}

	err = db.Where("created_at >= ? AND created_at <= ?", start, end).
		Order("created_at DESC, id DESC").
		Find(&report.Corrections).Error
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}

	return &report, nil
}
