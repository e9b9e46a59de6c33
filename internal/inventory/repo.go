package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// Repo is the Postgres-backed ledger.
type Repo struct{ DB postgres.DB }

// Reserve locks each product row (FOR UPDATE, in product id order), checks the
// stock and decrements it, recording one reservation row per product. Any
// shortfall rolls back the whole batch. Products already reserved under the
// same reservation id are skipped, so a retried call does not double-book.
func (r *Repo) Reserve(ctx context.Context, reservationID string, items []Item) error {
	if reservationID == "" {
		return fmt.Errorf("%w: missing reservation id", ErrInvalidItems)
	}
	items, err := Normalize(items)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidItems)
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		var available int
		err := tx.QueryRow(ctx, `SELECT available FROM inventory WHERE product_id=$1 FOR UPDATE`, it.ProductID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty}
		}
		if err != nil {
			return err
		}

		ct, err := tx.Exec(ctx, `
			INSERT INTO reservations(reservation_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')
			ON CONFLICT (reservation_id, product_id) DO NOTHING`,
			reservationID, it.ProductID, it.Qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			// same id reserved before: only a live hold counts as done
			var status string
			if err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE reservation_id=$1 AND product_id=$2`,
				reservationID, it.ProductID).Scan(&status); err != nil {
				return err
			}
			if s := ReservationStatus(status); s != StatusReserved && s != StatusCommitted {
				return fmt.Errorf("%w: %s %s", ErrReservationClosed, reservationID, it.ProductID)
			}
			continue
		}

		if available < it.Qty {
			return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty, Available: available}
		}
		if _, err := tx.Exec(ctx, `UPDATE inventory SET available = available - $2, updated_at = now() WHERE product_id=$1`,
			it.ProductID, it.Qty); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Release credits back every reservation row of the id that is not released
// yet, optionally restricted to the given products, and returns what was
// credited. Unknown ids and repeated calls release nothing.
func (r *Repo) Release(ctx context.Context, reservationID string, items []Item) ([]Item, error) {
	if reservationID == "" {
		return nil, fmt.Errorf("%w: missing reservation id", ErrInvalidItems)
	}
	only := make(map[string]bool, len(items))
	for _, it := range items {
		only[it.ProductID] = true
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE reservation_id=$1 AND status <> 'RELEASED'
		ORDER BY product_id
		FOR UPDATE`, reservationID)
	if err != nil {
		return nil, err
	}
	var recs []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
			rows.Close()
			return nil, err
		}
		if len(only) == 0 || only[it.ProductID] {
			recs = append(recs, it)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, it := range recs {
		if _, err := tx.Exec(ctx, `UPDATE inventory SET available = available + $2, updated_at = now() WHERE product_id=$1`,
			it.ProductID, it.Qty); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status='RELEASED', updated_at = now()
			WHERE reservation_id=$1 AND product_id=$2`, reservationID, it.ProductID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}

// Commit marks the reservation as backing a confirmed order, taking it out of
// the reconciliation sweep.
func (r *Repo) Commit(ctx context.Context, reservationID string) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE reservations SET status='COMMITTED', updated_at = now()
		WHERE reservation_id=$1 AND status='RESERVED'`, reservationID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) Get(ctx context.Context, productID string) (Record, error) {
	var rec Record
	err := r.DB.QueryRow(ctx, `SELECT product_id, available, updated_at FROM inventory WHERE product_id=$1`, productID).
		Scan(&rec.ProductID, &rec.Available, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// SetStock upserts the available quantity of a product.
func (r *Repo) SetStock(ctx context.Context, productID string, qty int) (Record, error) {
	if productID == "" || qty < 0 {
		return Record{}, fmt.Errorf("%w: stock must be a non-negative integer", ErrInvalidItems)
	}
	var rec Record
	err := r.DB.QueryRow(ctx, `
		INSERT INTO inventory(product_id, available) VALUES ($1,$2)
		ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = now()
		RETURNING product_id, available, updated_at`, productID, qty).
		Scan(&rec.ProductID, &rec.Available, &rec.UpdatedAt)
	return rec, err
}

// Stale lists reservation ids still RESERVED that were created before the cutoff.
func (r *Repo) Stale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT DISTINCT reservation_id FROM reservations
		WHERE status='RESERVED' AND created_at < $1
		ORDER BY reservation_id
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
