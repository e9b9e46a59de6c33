package inventory

import (
	"fmt"
	"sort"
	"time"
)

// Item is one product/quantity pair of a reservation.
type Item struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

// Record is the stock row of one product.
type Record struct {
	ProductID string    `json:"product_id"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "RESERVED"
	StatusCommitted ReservationStatus = "COMMITTED"
	StatusReleased  ReservationStatus = "RELEASED"
)

// Normalize merges duplicate products and sorts by product id so that every
// reservation locks rows in the same order.
func Normalize(items []Item) ([]Item, error) {
	merged := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrInvalidItems)
		}
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidItems, it.ProductID)
		}
		merged[it.ProductID] += it.Qty
	}

	out := make([]Item, 0, len(merged))
	for pid, qty := range merged {
		out = append(out, Item{ProductID: pid, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
