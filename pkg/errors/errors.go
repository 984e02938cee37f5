// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidSource       = errors.New("unknown ledger source")
	ErrInvalidKind         = errors.New("kind not allowed for a credit entry")
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// Donation errors
	ErrDonationNotFound          = errors.New("donation not found")
	ErrDonationFailed            = errors.New("donation already marked failed")
	ErrDuplicatePaymentReference = errors.New("payment reference already used")

	// Withdrawal errors
	ErrWithdrawalNotFound      = errors.New("withdrawal request not found")
	ErrBelowMinimumWithdrawal  = errors.New("withdrawal amount below minimum")
	ErrAboveMaximumAward       = errors.New("award amount above configured maximum")
	ErrPendingWithdrawalExists = errors.New("an active withdrawal request already exists")
	ErrInvalidStatusTransition = errors.New("operation not allowed in current status")
	ErrInsufficientReserve     = errors.New("pool reserve cannot cover payout")

	// Mirror errors
	ErrMirrorUnavailable = errors.New("blockchain mirror unavailable")
	ErrMirrorRejected    = errors.New("blockchain mirror rejected the call")
	ErrMirrorJobNotFound = errors.New("mirror job not found")
)

// Is reports whether err matches target, re-exported so callers only need
// this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
