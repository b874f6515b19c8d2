package ledger

import (
	"errors"
	"fmt"
)

// Precondition failures. Each aborts the operation before any transfer.
var (
	ErrInvalidAmount          = errors.New("ledger: amount must be greater than 0")
	ErrNoCollateral           = errors.New("ledger: no collateral deposited")
	ErrBorrowLimitExceeded    = errors.New("ledger: borrow amount exceeds limit")
	ErrNoDebtToRepay          = errors.New("ledger: no debt to repay")
	ErrNoCollateralToWithdraw = errors.New("ledger: no collateral to withdraw")
	ErrDebtMustBeRepaidFirst  = errors.New("ledger: debt must be repaid first")
	ErrAmountOverflow         = errors.New("ledger: amount overflows 256 bits")
	ErrReentrantCall          = errors.New("ledger: reentrant call for position in flight")
)

// ErrInsufficientReserve is a borrow limit failure caused by the protocol's
// own loan-asset balance rather than the user's collateral.
var ErrInsufficientReserve = fmt.Errorf("%w: insufficient protocol reserve", ErrBorrowLimitExceeded)

// ErrIdempotencyKeyReused is returned when a retry key already recorded for
// one operation is sent with a different user, operation or amount.
var ErrIdempotencyKeyReused = errors.New("ledger: idempotency key reused for a different operation")

// ErrTransferFailed wraps every value store failure. The store's own error
// stays matchable through errors.Is.
var ErrTransferFailed = errors.New("ledger: transfer failed")

func transferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

// IsPrecondition reports whether err is a caller-side precondition violation
// as opposed to a transfer or storage failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNoCollateral) ||
		errors.Is(err, ErrBorrowLimitExceeded) ||
		errors.Is(err, ErrNoDebtToRepay) ||
		errors.Is(err, ErrNoCollateralToWithdraw) ||
		errors.Is(err, ErrDebtMustBeRepaidFirst) ||
		errors.Is(err, ErrAmountOverflow)
}

// reason maps an error to a short metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNoCollateral):
		return "no_collateral"
	case errors.Is(err, ErrInsufficientReserve):
		return "insufficient_reserve"
	case errors.Is(err, ErrBorrowLimitExceeded):
		return "borrow_limit"
	case errors.Is(err, ErrNoDebtToRepay):
		return "no_debt"
	case errors.Is(err, ErrNoCollateralToWithdraw):
		return "no_collateral_to_withdraw"
	case errors.Is(err, ErrDebtMustBeRepaidFirst):
		return "debt_outstanding"
	case errors.Is(err, ErrAmountOverflow):
		return "overflow"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "idempotency_key_reused"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
