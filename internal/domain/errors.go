package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced referral, code or payout does not exist.
	// Retrying cannot create the missing row.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the requested transition would move a terminal state
	// to a different one. The stored state is left untouched.
	ErrConflict = errors.New("conflicting state transition")

	// ErrAlreadyTriggered is returned to every markPayoutEligible caller but
	// the single winner.
	ErrAlreadyTriggered = errors.New("payout already triggered")

	// ErrNotEligible means the referral is not completed with a positive
	// reward, or has never had a payout triggered when a retry is requested.
	ErrNotEligible = errors.New("referral not eligible for payout")

	// ErrAttemptsExhausted means the referral used up its payout attempts.
	ErrAttemptsExhausted = errors.New("payout attempts exhausted")

	// ErrSelfReferral rejects a referral whose contact is the code owner.
	ErrSelfReferral = errors.New("self referral")
)

// TransientError wraps storage or network failures that are safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TransferFailure is the payments platform reporting that a transfer failed,
// either synchronously on request or later via webhook. It is recorded and
// never retried automatically.
type TransferFailure struct {
	Reason string
}

func (e *TransferFailure) Error() string { return "transfer failed: " + e.Reason }

func IsTransferFailure(err error) bool {
	var tf *TransferFailure
	return errors.As(err, &tf)
}
