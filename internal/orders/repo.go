package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Repo struct{ DB postgres.DB }

const orderColumns = `id, user_id, subtotal_cents, tax_cents, shipping_cents, total_cents,
	status, payment_status, payment_method, shipping_address, billing_address, reserved,
	created_at, updated_at`

// CreateOrder writes the header and every line item in one transaction.
func (r *Repo) CreateOrder(ctx context.Context, o *Order) error {
	ship, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	bill, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, subtotal_cents, tax_cents, shipping_cents, total_cents,
			status, payment_status, payment_method, shipping_address, billing_address, reserved,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
		o.ID, o.UserID, toCents(o.Subtotal), toCents(o.Tax), toCents(o.Shipping), toCents(o.Total),
		string(o.Status), string(o.PaymentStatus), o.PaymentMethod, ship, bill, o.Reserved, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert order: %v", ErrPersistence, err)
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.ProductName, it.Qty, toCents(it.UnitPrice), toCents(it.LineTotal))
		if err != nil {
			return fmt.Errorf("%w: insert item %s: %v", ErrPersistence, it.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

// Get loads an order with its line items.
func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, product_name, qty, unit_price_cents, line_total_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it          OrderItem
			unit, total int64
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Qty, &unit, &total); err != nil {
			return nil, err
		}
		it.OrderID = orderID
		it.UnitPrice = fromCents(unit)
		it.LineTotal = fromCents(total)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// ListByUser returns the user's order headers, newest first.
func (r *Repo) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repo) Exists(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&ok)
	return ok, err
}

// UpdateStatus moves the order along the status table under a row lock and
// returns the status it had before.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status) (Status, error) {
	from, err := r.transition(ctx, orderID, "status", string(to), func(from string) bool {
		return CanTransition(Status(from), to)
	})
	return Status(from), err
}

func (r *Repo) UpdatePaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (PaymentStatus, error) {
	from, err := r.transition(ctx, orderID, "payment_status", string(to), func(from string) bool {
		return CanTransitionPayment(PaymentStatus(from), to)
	})
	return PaymentStatus(from), err
}

// column is one of two constants above, never user input
func (r *Repo) transition(ctx context.Context, orderID, column, to string, allowed func(from string) bool) (string, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from string
	err = tx.QueryRow(ctx, `SELECT `+column+` FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !allowed(from) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET `+column+`=$2, updated_at=now() WHERE id=$1`, orderID, to); err != nil {
		return from, err
	}
	return from, tx.Commit(ctx)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                              Order
		subtotal, tax, shipping, total int64
		status, paymentStatus          string
		shipJSON, billJSON             []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &subtotal, &tax, &shipping, &total,
		&status, &paymentStatus, &o.PaymentMethod, &shipJSON, &billJSON, &o.Reserved,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Subtotal, o.Tax, o.Shipping, o.Total = fromCents(subtotal), fromCents(tax), fromCents(shipping), fromCents(total)
	o.Status, o.PaymentStatus = Status(status), PaymentStatus(paymentStatus)
	if err := json.Unmarshal(shipJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	return &o, nil
}
