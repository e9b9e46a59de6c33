package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const listLimit = 50

type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	Exists(ctx context.Context, orderID string) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, to Status) (Status, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (PaymentStatus, error)
}

// Carts is the cart snapshot reader plus the clear used after checkout.
type Carts interface {
	Items(ctx context.Context, userID string) ([]cart.Item, error)
	Clear(ctx context.Context, userID string) error
}

// Ledger is the inventory service as seen from the order service.
type Ledger interface {
	Reserve(ctx context.Context, reservationID string, items []inventory.Item) error
	Release(ctx context.Context, reservationID string, items []inventory.Item) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store   Store
	Carts   Carts
	Ledger  Ledger
	Pricing Pricing
	Journal Journal

	Created   Publisher // order.created
	Cancelled Publisher // order.cancelled

	ServiceName string
	// Timeout bounds the saga once it is detached from the request.
	Timeout time.Duration
	// FailOpen lets checkout proceed without a reservation when the
	// inventory service is unreachable. Off by default.
	FailOpen bool

	NewID func() string
	Now   func() time.Time
}

func (s *Service) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 5 * time.Second
	}
	return s.Timeout
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// detached returns a context that survives the client going away but still
// carries request-scoped values, bounded by the saga timeout.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
}

// Get returns the order if the caller owns it or is an admin.
func (s *Service) Get(ctx context.Context, userID string, isAdmin bool, orderID string) (*Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	return s.Store.ListByUser(ctx, userID, listLimit)
}

// UpdateStatus applies an admin status change. Cancelling an order gives its
// reserved stock back. Once the new status is committed the follow-up work runs
// detached from the request, so a dropped client cannot strand the stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	from, err := s.Store.UpdateStatus(ctx, orderID, to)
	if err != nil {
		return nil, err
	}
	log := logger.FromCtx(ctx).With(zap.String("order_id", orderID))
	log.Info("order status changed", zap.String("from", string(from)), zap.String("to", string(to)))

	work, cancel := s.detached(ctx)
	defer cancel()

	if to == StatusCancelled {
		// release is a no-op for orders placed without a reservation
		if err := s.Ledger.Release(work, orderID, nil); err != nil {
			// the order.cancelled consumer in the inventory service releases it too
			log.Warn("release on cancel failed", zap.Error(err))
		}
	}

	o, err := s.Store.Get(work, orderID)
	if to == StatusCancelled {
		p := events.OrderCancelledPayload{OrderID: orderID}
		if err == nil {
			p.UserID = o.UserID
		}
		s.publish(work, s.Cancelled, events.EventOrderCancelled, orderID, p)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, to)
	}
	from, err := s.Store.UpdatePaymentStatus(ctx, orderID, to)
	if err != nil {
		return nil, err
	}
	logger.FromCtx(ctx).Info("payment status changed", zap.String("order_id", orderID),
		zap.String("from", string(from)), zap.String("to", string(to)))
	return s.Store.Get(ctx, orderID)
}

func (s *Service) publish(ctx context.Context, p Publisher, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := events.NewEnvelope(eventType, s.ServiceName, middleware.GetReqID(ctx), orderID, kafkax.MustMarshal(payload))
	p.Publish(events.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
