package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidItems = errors.New("invalid inventory items")
	ErrNotFound     = errors.New("inventory record not found")
	// ErrReservationClosed means a reservation id was reused after part of it
	// was released. The stock for that id is not held any more.
	ErrReservationClosed = errors.New("reservation already released")
	// ErrUnavailable means the inventory service could not be reached after
	// retries. The outcome of the call is unknown.
	ErrUnavailable = errors.New("inventory service unavailable")
)

// InsufficientStockError reports the first product of a batch that could not
// be covered. Nothing from that batch was reserved.
type InsufficientStockError struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
