package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebook/hospital_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolveAlert closes an OPEN discrepancy alert as RESOLVED. Resolution is
// bookkeeping metadata only; the ledger itself is untouched.
func (s *Service) ResolveAlert(ctx context.Context, alertId int, resolver string, notes string) (*models.DiscrepancyAlert, error) {
	return s.closeAlert(ctx, alertId, resolver, notes, models.DiscrepancyStatusResolved)
}

// IgnoreAlert closes an OPEN alert as IGNORED, for discrepancies judged
// immaterial. Same preconditions as ResolveAlert.
func (s *Service) IgnoreAlert(ctx context.Context, alertId int, resolver string, notes string) (*models.DiscrepancyAlert, error) {
	return s.closeAlert(ctx, alertId, resolver, notes, models.DiscrepancyStatusIgnored)
}

func (s *Service) closeAlert(ctx context.Context, alertId int, resolver string, notes string, target models.DiscrepancyStatus) (*models.DiscrepancyAlert, error) {
	if strings.TrimSpace(resolver) == "" {
		return nil, errors.New("resolver is required")
	}
	if strings.TrimSpace(notes) == "" {
		return nil, errors.New("resolution notes are required")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	var alert models.DiscrepancyAlert
	err := s.db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		// Guarded update: the WHERE on status makes OPEN -> closed a
		// transition that can succeed at most once.
		res := tx.Model(&models.DiscrepancyAlert{}).
			Where("id = ? AND status = ?", alertId, models.DiscrepancyStatusOpen).
			Updates(map[string]interface{}{
				"status":           target,
				"resolved_by":      resolver,
				"resolved_at":      now,
				"resolution_notes": notes,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&alert, alertId).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: id=%d", ErrAlertNotFound, alertId)
				}
				return err
			}
			return fmt.Errorf("%w: id=%d status=%s", ErrAlreadyResolved, alertId, alert.Status)
		}
		return tx.First(&alert, alertId).Error
	})
	if err != nil {
		return nil, s.classifyStorageErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"field":    "closeAlert",
		"alert_id": alertId,
		"status":   target,
		"resolver": resolver,
	}).Info("discrepancy alert closed")

	return &alert, nil
}

// ListAlerts returns discrepancy alerts filtered by optional status and
// severity, newest first.
func (s *Service) ListAlerts(ctx context.Context, status *models.DiscrepancyStatus, severity *models.DiscrepancySeverity) ([]*models.DiscrepancyAlert, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	dbCtx := s.db.WithContext(tctx)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if severity != nil {
		dbCtx = dbCtx.Where("severity = ?", *severity)
	}

	var results []*models.DiscrepancyAlert
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, s.classifyStorageErr(err)
	}
	return results, nil
}
