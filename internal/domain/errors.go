package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateIdempotencyKey means another request stored a payment under
	// the same key first.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	ErrInvalidTransition = errors.New("invalid payment status transition")

	ErrInvalidSignature = errors.New("invalid signature")

	ErrEmailRegistered    = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidOTP         = errors.New("invalid OTP")
	ErrOTPExpired         = errors.New("OTP has expired")
	ErrOTPUsed            = errors.New("OTP already used")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("no authentication token found in cookie or Authorization header")
	ErrInvalidToken       = errors.New("invalid or expired token")

	ErrTooManyRequests = errors.New("too many requests")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
