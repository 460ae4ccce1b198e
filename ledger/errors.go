package ledger

import (
	"errors"
	"fmt"

	"github.com/carebook/hospital_backend/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound is surfaced everywhere except the mutator, which
	// recovers by lazily creating a zero-balance account.
	ErrAccountNotFound = errors.New("account not found")

	ErrInvalidAccountRef = errors.New("invalid account reference")

	// ErrAlreadyResolved rejects a second resolution attempt on an alert.
	ErrAlreadyResolved = errors.New("discrepancy alert already resolved or ignored")

	ErrAlertNotFound = errors.New("discrepancy alert not found")

	// ErrPersistenceTimeout means a storage call exceeded its bound and the
	// outcome is unknown. Re-verify state; do not retry the same amount.
	ErrPersistenceTimeout = errors.New("storage timeout, outcome unknown")
)

// InvalidTransactionTypeError rejects transaction kinds outside the enum.
type InvalidTransactionTypeError struct {
	Type models.TransactionType
}

func (e *InvalidTransactionTypeError) Error() string {
	return fmt.Sprintf("invalid transaction type %q", string(e.Type))
}

// InvalidAmountError carries enough context for an operator to diagnose
// without re-querying the ledger.
type InvalidAmountError struct {
	Account models.AccountRef
	Amount  decimal.Decimal
	Reason  string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s for account %s: %s", e.Amount.String(), e.Account.Key(), e.Reason)
}

// StaleBalanceError rejects a correction requested against an outdated
// balance so operators cannot correct on stale information.
type StaleBalanceError struct {
	Account models.AccountRef
	Claimed decimal.Decimal
	Stored  decimal.Decimal
}

func (e *StaleBalanceError) Error() string {
	return fmt.Sprintf("stale balance assumption for account %s: claimed %s but stored balance is %s",
		e.Account.Key(), e.Claimed.String(), e.Stored.String())
}

// DuplicateExternalRefError means this external reference was already applied
// to the account; the original transaction stands and nothing was double
// applied.
type DuplicateExternalRefError struct {
	Account     models.AccountRef
	ExternalRef string
}

func (e *DuplicateExternalRefError) Error() string {
	return fmt.Sprintf("external ref %q already applied to account %s", e.ExternalRef, e.Account.Key())
}
