package payment

import (
	"context"
	"errors"
	"fmt"
)

// TransferRequest asks the payments platform to move AmountCents to a
// connected account.
type TransferRequest struct {
	AmountCents    int64 // integer minor-currency units
	Currency       string
	Destination    string // connected account id
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferResponse is the platform's synchronous acknowledgment.
type TransferResponse struct {
	Reference string
	Status    string
}

// TransferProvider creates transfers on the payments platform. Implementations
// must bound every call by a timeout and must not retry on their own.
type TransferProvider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error)
}

// RejectedError means the platform definitively refused the transfer (bad
// destination, insufficient funds, validation). Any other error from a
// provider means the outcome is unknown.
type RejectedError struct {
	Code    string
	Message string
	Err     error
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transfer rejected (%s): %s", e.Code, e.Message)
	}
	return "transfer rejected: " + e.Message
}

func (e *RejectedError) Unwrap() error { return e.Err }

func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
