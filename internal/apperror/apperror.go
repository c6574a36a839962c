// Package apperror defines the error taxonomy shared by every layer.
//
// Services return these; handlers map them to HTTP status codes in one place
// (handler.writeError). Callers test for a category with errors.Is against
// the sentinels, and read the human-readable message through errors.As.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized = errors.New("unauthorized")

	// Payment webhook rejections. Both answer 400 so the provider stops
	// retrying a request that can never succeed.
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnresolvableUser means a confirmed payment carries neither a known
	// external auth id nor an email. The order needs manual reconciliation.
	ErrUnresolvableUser = errors.New("unresolvable user")

	// ErrInsufficientStock is a warning: the decrement was clamped at zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation. Field names the column that
// collided so callers can decide whether to retry (order_number) or to
// re-read the existing row (payment_reference_id).
func Conflict(resource, field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict on %s", resource, field),
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func InvalidSignature(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidSignature,
		Message: message,
	}
}

func MalformedPayload(message string) *AppError {
	return &AppError{
		Err:     ErrMalformedPayload,
		Message: message,
	}
}

func UnresolvableUser(paymentRef string) *AppError {
	return &AppError{
		Err:     ErrUnresolvableUser,
		Message: fmt.Sprintf("could not identify user for payment %s", paymentRef),
	}
}

func InsufficientStock(variantID string, requested, available int) *AppError {
	return &AppError{
		Err: ErrInsufficientStock,
		Message: fmt.Sprintf("variant %s: requested %d, only %d in stock",
			variantID, requested, available),
		Field: variantID,
	}
}
