package orders

import "errors"

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidInput      = errors.New("invalid order input")
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPersistence wraps storage failures of the order write.
	ErrPersistence = errors.New("order persistence failed")
)
