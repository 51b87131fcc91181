package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidContact     = errors.New("invalid buyer contact")
	ErrProductMismatch    = errors.New("remote order does not match product")
	ErrContactMismatch    = errors.New("remote order does not match buyer contact")
	ErrUnknownRemoteOrder = errors.New("unknown remote order")
	ErrPaymentPending     = errors.New("payment pending")
)

// GatewayError is an operational failure talking to the payment processor.
// No token was issued, so the call is safe to retry.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// DeclinedError is a capture the processor did not complete. Reason is the
// processor's status or issue code.
type DeclinedError struct {
	RemoteOrderID string
	Reason        string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment not completed: %s", e.Reason)
}

// DeniedError is a refused redemption. Reason is for logs only.
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	return "redemption denied: " + e.Reason
}

func (e *DeniedError) Unwrap() error { return e.Err }

// IsValidation reports errors caused by client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrInvalidContact) ||
		errors.Is(err, ErrProductMismatch) ||
		errors.Is(err, ErrContactMismatch) ||
		errors.Is(err, ErrUnknownRemoteOrder)
}
