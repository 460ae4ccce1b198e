// Package ledger implements the financial core of the platform: per-account
// balances backed by an append-only transaction log, daily reconciliation of
// stored balances against that log, the discrepancy resolution workflow,
// admin balance corrections, and the ledger-wide health sweep.
//
// The Service owns its storage handle; nothing in this package reaches for
// ambient globals. Every mutation of a given account is serialized by a MySQL
// advisory lock (authoritative) plus a best-effort redis lock that keeps
// cross-instance contention off the database.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
	locker *redislock.Client // optional; nil means redis layer is skipped
	cfg    config.FinanceConfig
}

func NewService(db *gorm.DB, logger *logrus.Logger, locker *redislock.Client, cfg config.FinanceConfig) *Service {
	return &Service{db: db, logger: logger, locker: locker, cfg: cfg}
}

func (s *Service) Config() config.FinanceConfig {
	return s.cfg
}

// withTimeout bounds a storage call. A deadline hit on a write means the
// outcome is unknown; callers must re-verify state instead of blindly
// retrying with the same amount.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.cfg.StorageTimeout)
}

func (s *Service) classifyStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	return err
}

// obtainAccountLock takes the best-effort redis lock for an account.
// Reliability must not depend on redis: posting is also serialized via MySQL
// advisory locks, so a missing/unobtainable lock only logs a warning.
func (s *Service) obtainAccountLock(ctx context.Context, accountKey string) *redislock.Lock {
	if s.locker == nil {
		return nil
	}
	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("ledger:lock:%s", accountKey), 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		s.logger.WithFields(logrus.Fields{
			"field":   "obtainAccountLock",
			"account": accountKey,
		}).Warn("could not obtain redis lock; proceeding with advisory lock only")
		return nil
	} else if err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":   "obtainAccountLock",
			"account": accountKey,
		}).Warn("error obtaining redis lock; proceeding with advisory lock only: " + err.Error())
		return nil
	}
	return lock
}

func (s *Service) releaseAccountLock(ctx context.Context, lock *redislock.Lock, accountKey string) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":   "releaseAccountLock",
			"account": accountKey,
		}).Warn("failed to release redis lock: " + err.Error())
	}
}

func (s *Service) correlationId(ctx context.Context) string {
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		return cid
	}
	return uuid.NewString()
}

// GetBalance reads an account's stored balance. Unlike the mutator, a missing
// account here is a real error: callers re-verifying after a timeout need to
// know the account was never created.
func (s *Service) GetBalance(ctx context.Context, ref models.AccountRef) (*models.AccountBalance, error) {
	if !ref.Valid() {
		return nil, ErrInvalidAccountRef
	}
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var bal models.AccountBalance
	err := s.db.WithContext(tctx).
		Where("account_kind = ? AND owner_id = ?", ref.Kind, ref.OwnerId).
		First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Key())
		}
		return nil, s.classifyStorageErr(err)
	}
	return &bal, nil
}
