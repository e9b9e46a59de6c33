package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCancelled = "OrderCancelled"
	EventStockReserved  = "StockReserved"
	EventStockReleased  = "StockReleased"
)

const (
	TopicOrderCreated   = "order.created"
	TopicOrderCancelled = "order.cancelled"
	TopicStockReserved  = "inventory.stock.reserved"
	TopicStockReleased  = "inventory.stock.released"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope stamps a v1 envelope around an already encoded payload.
func NewEnvelope(eventType, producer, traceID, orderID string, payload json.RawMessage) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       payload,
	}
}

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Items      []ItemQty `json:"items"`
	TotalCents int64     `json:"total_cents"`
	// Reserved is false when the order was written without a reservation
	// (inventory fail-open).
	Reserved bool `json:"reserved"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type StockChangedPayload struct {
	ReservationID string    `json:"reservation_id"`
	Items         []ItemQty `json:"items"`
}
