package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Valid() bool {
	return a.Line1 != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	// Reserved is false only for orders written while inventory was
	// unreachable under the fail-open policy.
	Reserved  bool        `json:"reserved"`
	Items     []OrderItem `json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OrderItem snapshots name and price at purchase time.
type OrderItem struct {
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// PlaceOrderInput is the checkout request once the user is known.
type PlaceOrderInput struct {
	ShippingAddress Address `json:"shippingAddress"`
	BillingAddress  Address `json:"billingAddress"`
	PaymentMethod   string  `json:"paymentMethod"`
}

func toCents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }
