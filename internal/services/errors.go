package services

import (
	"errors"
	"fmt"

	"erp_wa/internal/whatsapp"
)

var (
	// ErrTransportUnavailable is returned when the WhatsApp session is not connected
	ErrTransportUnavailable = whatsapp.ErrNotConnected
	// ErrNotConnected is the name used by the send path for the same condition
	ErrNotConnected = ErrTransportUnavailable

	ErrTemplateNotFound      = errors.New("message template not found or inactive")
	ErrNumberNotReachable    = errors.New("phone number is not registered on WhatsApp")
	ErrCodeExpired           = errors.New("verification code expired")
	ErrCodeMismatch          = errors.New("verification code does not match")
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrNotFound              = errors.New("whatsapp configuration not found")
	ErrNotVerified           = errors.New("phone number is not verified")
)

// SendError wraps a transport failure for a logged send attempt
type SendError struct {
	Phone string
	LogID string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Phone, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
