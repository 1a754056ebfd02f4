package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration means webhook verification cannot run at all.
	ErrConfiguration    = errors.New("billing: paypal webhook verification is not configured")
	ErrMalformedPayload = errors.New("billing: malformed webhook payload")
	// ErrSignatureInvalid means the processor answered and rejected the delivery.
	ErrSignatureInvalid = errors.New("billing: webhook signature verification failed")
	// ErrVerificationUnavailable means no verification answer could be
	// obtained, for example because the access token could not be fetched.
	ErrVerificationUnavailable = errors.New("billing: webhook signature verification unavailable")

	ErrValidation = errors.New("billing: invalid claim request")

	ErrNoCandidate   = errors.New("billing: no claimable payment")
	ErrNoEvents      = fmt.Errorf("%w: no recent payment found", ErrNoCandidate)
	ErrNoValidEvent  = fmt.Errorf("%w: no payment met the requirements", ErrNoCandidate)
	ErrClaimConflict = errors.New("billing: payment already claimed")
	ErrRateLimited   = errors.New("billing: claim attempted too soon")
	ErrAccountExists = errors.New("billing: account already exists")
	ErrStorage       = errors.New("billing: storage unavailable")
)

// ValidationError carries the user-facing reason a request was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError reports when the claimant may try again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StorageError wraps a persistence failure. It matches ErrStorage and keeps
// the driver error reachable for logs.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Error(), e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
