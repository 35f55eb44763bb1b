// Package errors holds the sentinel errors shared across wsotp packages.
// Import it as apperrors to avoid clashing with the standard library.
package errors

import (
	"context"
	"errors"
	"net"
)

// Storage errors
var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("record not found")
)

// Remote registration API errors
var (
	ErrAuthFailed        = errors.New("login rejected by registration API")
	ErrAuthExpired       = errors.New("registration API token expired")
	ErrAlreadyExists     = errors.New("number already exists")
	ErrMalformedResponse = errors.New("malformed registration API response")
	ErrUnexpectedStatus  = errors.New("unexpected registration API status")
)

// Pool and tracking errors
var (
	ErrNoAccounts        = errors.New("no accounts configured")
	ErrNotOwned          = errors.New("account does not belong to user")
	ErrNotActive         = errors.New("account is inactive")
	ErrCapacityExhausted = errors.New("no account capacity left")
	ErrAlreadyTracked    = errors.New("number is already being tracked")
	ErrNotTracked        = errors.New("number is not being tracked")
)

// Input errors
var (
	ErrNoNumbers   = errors.New("no valid phone number found")
	ErrInvalidCode = errors.New("confirmation code must be 4 to 6 digits")
)

// IsAuth reports whether err means the remote side no longer accepts the
// credentials or token used for the call.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrAuthFailed)
}

// IsRetryable reports whether a failed remote call is worth repeating.
// Transport failures and expired tokens are; explicit rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrUnexpectedStatus) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
