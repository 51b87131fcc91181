package domain

import "errors"

// ErrInvalidEvent marks a message that can never be delivered and should
// not be retried.
var ErrInvalidEvent = errors.New("invalid notification event")

// Email is a rendered message ready for the transport.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
}
