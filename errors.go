package coins

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput  = errors.New("coins: invalid input")
	ErrUnknownAction = errors.New("coins: unknown action kind")
	ErrNoExecutor    = errors.New("coins: no executor registered for action")

	// Balance errors
	ErrBalanceNotFound   = errors.New("coins: balance not found")
	ErrBalanceExists     = errors.New("coins: balance already exists")
	ErrInsufficientFunds = errors.New("coins: insufficient funds")
	ErrVersionConflict   = errors.New("coins: balance version conflict")

	// Reservation errors
	ErrReservationNotFound  = errors.New("coins: reservation not found")
	ErrDuplicateTransaction = errors.New("coins: duplicate transaction id")
	ErrNotPending           = errors.New("coins: reservation not pending")

	// Coordinator errors
	ErrConflict = errors.New("coins: debit conflict, retries exhausted")

	// Store errors
	ErrStoreNotReady = errors.New("coins: store not ready")
	ErrStoreClosed   = errors.New("coins: store is closed")
)

// ExternalError wraps a failed external operation. The engine always
// compensates the reservation before surfacing one, so Refunded is true
// unless the compensation itself failed and was left to the sweep.
type ExternalError struct {
	Kind     string
	Err      error
	Refunded bool
}

func (e *ExternalError) Error() string {
	if e.Refunded {
		return fmt.Sprintf("coins: %s failed, coins refunded: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("coins: %s failed, refund pending reconciliation: %v", e.Kind, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("coins: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsUserError returns true if the error is fixable by the caller without
// retrying: buying coins, correcting the request, or polling an
// in-flight transaction instead of resubmitting it.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateTransaction) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable returns true if the error is transient and the whole
// Execute may be retried with the same transaction id.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrStoreNotReady)
}
