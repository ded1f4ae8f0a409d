package engine

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAmountExceedsDebt rejects repayments or liquidation covers larger
	// than the account's outstanding debt in that asset.
	ErrAmountExceedsDebt = errors.New("amount exceeds outstanding debt")

	// ErrHealthFactorTooLow means a withdrawal or borrow would leave the
	// account's health factor below 1.0.
	ErrHealthFactorTooLow = errors.New("health factor too low")

	// ErrInsufficientCollateral means the operation needs more collateral
	// than the account holds.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrPositionNotLiquidatable means liquidation was attempted against an
	// account whose health factor is at or above 1.0.
	ErrPositionNotLiquidatable = errors.New("position not liquidatable")

	// ErrInsufficientSupply means a liquidity withdrawal exceeds what the
	// provider supplied.
	ErrInsufficientSupply = errors.New("insufficient supplied balance")

	// ErrTransferFailed wraps a rejection from the external token ledger.
	// The enclosing operation rolls back fully before surfacing it.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrReentrancy means a mutating operation was reentered for the same
	// account before the outer operation finished.
	ErrReentrancy = errors.New("reentrant call rejected")
)
