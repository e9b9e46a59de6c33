package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"go.uber.org/zap"
)

// Reservations is the part of the inventory service the sweep needs.
type Reservations interface {
	Stale(ctx context.Context, olderThan time.Duration) ([]string, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string, items []inventory.Item) error
}

// Reconciler closes the window between a reservation and its order: any
// reservation still open after After is committed when its order exists and
// released otherwise.
type Reconciler struct {
	Inventory Reservations
	Orders    interface {
		Exists(ctx context.Context, orderID string) (bool, error)
	}
	After    time.Duration
	Interval time.Duration
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.L().Warn("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (committed, released int, err error) {
	ids, err := r.Inventory.Stale(ctx, r.After)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		exists, err := r.Orders.Exists(ctx, id)
		if err != nil {
			return committed, released, err
		}
		if exists {
			if err := r.Inventory.Commit(ctx, id); err != nil {
				return committed, released, err
			}
			committed++
			continue
		}
		if err := r.Inventory.Release(ctx, id, nil); err != nil {
			return committed, released, err
		}
		logger.L().Info("orphaned reservation released", zap.String("reservation_id", id))
		released++
	}
	return committed, released, nil
}
