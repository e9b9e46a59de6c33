package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"go.uber.org/zap"
)

// SagaState is a step of the checkout saga.
type SagaState string

const (
	SagaStarted           SagaState = "started"
	SagaCartRead          SagaState = "cart_read"
	SagaInventoryReserved SagaState = "inventory_reserved"
	SagaOrderWritten      SagaState = "order_written"
	SagaCartCleared       SagaState = "cart_cleared"
	SagaCommitted         SagaState = "committed"
	SagaRolledBack        SagaState = "rolled_back"
)

// PlaceOrder turns the user's cart into a confirmed order.
//
// The inventory reservation lives in another service, so the steps are a
// saga: reserve stock, write the order, clear the cart. A failed order write
// releases the reservation. The order id doubles as the reservation id, which
// makes the release safe to repeat. Once the reservation is attempted the
// saga no longer follows the request context, so a client disconnect cannot
// strand reserved stock.
func (s *Service) PlaceOrder(ctx context.Context, userID string, in PlaceOrderInput) (*Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	if in.BillingAddress == (Address{}) {
		in.BillingAddress = in.ShippingAddress
	}
	if !in.ShippingAddress.Valid() || !in.BillingAddress.Valid() {
		return nil, fmt.Errorf("%w: incomplete address", ErrInvalidInput)
	}

	orderID := s.newID()
	log := logger.FromCtx(ctx).With(zap.String("order_id", orderID), zap.String("user_id", userID))
	step := func(ctx context.Context, st SagaState) {
		log.Debug("checkout step", zap.String("state", string(st)))
		if s.Journal != nil {
			s.Journal.Record(ctx, orderID, st)
		}
	}
	step(ctx, SagaStarted)

	cartItems, err := s.Carts.Items(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, ErrEmptyCart
	}
	step(ctx, SagaCartRead)

	lines := linesFromCart(orderID, cartItems)
	totals := s.Pricing.Totals(lines)
	reservation := reservationItems(lines)

	work, cancel := s.detached(ctx)
	defer cancel()

	reserved := true
	if err := s.Ledger.Reserve(work, orderID, reservation); err != nil {
		var short *inventory.InsufficientStockError
		switch {
		case errors.As(err, &short):
			log.Info("checkout rejected", zap.String("product_id", short.ProductID),
				zap.Int("requested", short.Requested), zap.Int("available", short.Available))
			step(work, SagaRolledBack)
			return nil, err
		case errors.Is(err, inventory.ErrUnavailable) && s.FailOpen:
			log.Warn("inventory unreachable, placing order without reservation", zap.Error(err))
			reserved = false
		case errors.Is(err, inventory.ErrUnavailable):
			// the call may have landed before the connection failed
			s.compensate(ctx, log, orderID, reservation)
			step(work, SagaRolledBack)
			return nil, err
		default:
			step(work, SagaRolledBack)
			return nil, fmt.Errorf("reserve inventory: %w", err)
		}
	}
	step(work, SagaInventoryReserved)

	now := s.now()
	order := &Order{
		ID:              orderID,
		UserID:          userID,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Shipping:        totals.Shipping,
		Total:           totals.Total,
		Status:          StatusConfirmed,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   in.PaymentMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Reserved:        reserved,
		Items:           lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.CreateOrder(work, order); err != nil {
		if reserved {
			s.compensate(ctx, log, orderID, reservation)
		}
		step(work, SagaRolledBack)
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil, err
	}
	step(work, SagaOrderWritten)

	if err := s.Carts.Clear(work, userID); err != nil {
		// the order stands; the user just sees stale cart lines
		log.Warn("cart clear failed after order write", zap.Error(err))
	} else {
		step(work, SagaCartCleared)
	}

	qty := make([]events.ItemQty, 0, len(reservation))
	for _, it := range reservation {
		qty = append(qty, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	s.publish(work, s.Created, events.EventOrderCreated, orderID, events.OrderCreatedPayload{
		OrderID:    orderID,
		UserID:     userID,
		Items:      qty,
		TotalCents: toCents(order.Total),
		Reserved:   reserved,
	})
	step(work, SagaCommitted)
	log.Info("order placed", zap.String("total", order.Total.StringFixed(2)), zap.Bool("reserved", reserved))
	return order, nil
}

// compensate releases the reservation on a fresh context. A failure here is
// left to the reconciliation sweep.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, orderID string, items []inventory.Item) {
	work, cancel := s.detached(ctx)
	defer cancel()
	if err := s.Ledger.Release(work, orderID, items); err != nil {
		log.Error("compensating release failed", zap.Error(err))
		return
	}
	log.Info("reservation released")
}

func linesFromCart(orderID string, items []cart.Item) []OrderItem {
	lines := make([]OrderItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, OrderItem{
			OrderID:     orderID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Qty:         it.Qty,
			UnitPrice:   it.UnitPrice,
			LineTotal:   LineTotal(it.UnitPrice, it.Qty),
		})
	}
	return lines
}

func reservationItems(lines []OrderItem) []inventory.Item {
	out := make([]inventory.Item, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Item{ProductID: l.ProductID, Qty: l.Qty})
	}
	return out
}
