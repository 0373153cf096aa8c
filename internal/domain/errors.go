package domain

import "errors"

// Sentinel errors shared by services and handlers. Wrap them with context
// using fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the product or order does not exist (or is not
	// visible to the caller).
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock indicates a requested quantity exceeds product stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition indicates the requested status change is not
	// permitted from the order's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus indicates an unrecognized status value.
	ErrInvalidStatus = errors.New("invalid status")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
