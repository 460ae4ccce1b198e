package ledger

import (
	"fmt"

	"gorm.io/gorm"
)

// acquireAccountPostingLock serializes mutation per account across instances
// using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the pinned
// connection that runs the posting transaction, and released only after that
// transaction commits so the lock covers the commit point.
func acquireAccountPostingLock(tx *gorm.DB, accountKey string) error {
	lockName := fmt.Sprintf("ledger:%s", accountKey)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for account=%s", accountKey)
	}
	return nil
}

func releaseAccountPostingLock(tx *gorm.DB, accountKey string) {
	lockName := fmt.Sprintf("ledger:%s", accountKey)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
