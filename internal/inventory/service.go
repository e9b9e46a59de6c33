package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Store interface {
	Reserve(ctx context.Context, reservationID string, items []Item) error
	Release(ctx context.Context, reservationID string, items []Item) ([]Item, error)
	Commit(ctx context.Context, reservationID string) (int64, error)
	Get(ctx context.Context, productID string) (Record, error)
	SetStock(ctx context.Context, productID string, qty int) (Record, error)
	Stale(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service is the ledger as run inside the inventory process: the store plus
// stock events and the order-event consumer.
type Service struct {
	Repo        Store
	Redis       redis.Cmdable
	Reserved    Publisher // inventory.stock.reserved
	Released    Publisher // inventory.stock.released
	ServiceName string
}

func (s *Service) Reserve(ctx context.Context, reservationID string, items []Item) error {
	if err := s.Repo.Reserve(ctx, reservationID, items); err != nil {
		return err
	}
	s.publish(ctx, s.Reserved, events.EventStockReserved, reservationID, items)
	return nil
}

func (s *Service) Release(ctx context.Context, reservationID string, items []Item) ([]Item, error) {
	released, err := s.Repo.Release(ctx, reservationID, items)
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		logger.FromCtx(ctx).Info("stock released",
			zap.String("reservation_id", reservationID), zap.Int("products", len(released)))
		s.publish(ctx, s.Released, events.EventStockReleased, reservationID, released)
	}
	return released, nil
}

func (s *Service) Commit(ctx context.Context, reservationID string) error {
	_, err := s.Repo.Commit(ctx, reservationID)
	return err
}

func (s *Service) Get(ctx context.Context, productID string) (Record, error) {
	return s.Repo.Get(ctx, productID)
}

func (s *Service) SetStock(ctx context.Context, productID string, qty int) (Record, error) {
	return s.Repo.SetStock(ctx, productID, qty)
}

func (s *Service) Stale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.Repo.Stale(ctx, before, limit)
}

// HandleOrderEvent is the consumer handler for order.created and
// order.cancelled. Created orders commit their reservation, cancelled ones
// release it. Each event id is processed once.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let the offset move on
		logger.L().Error("undecodable order event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventOrderCreated && env.EventType != events.EventOrderCancelled {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "inventory", env.EventID)
	first, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !first {
		return nil
	}

	if err := s.applyOrderEvent(ctx, env); err != nil {
		// free the key so the consumer retry runs it again
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

func (s *Service) applyOrderEvent(ctx context.Context, env events.Envelope) error {
	l := logger.L().With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	switch env.EventType {
	case events.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[events.OrderCreatedPayload](env.Payload)
		if err != nil {
			l.Error("bad payload", zap.Error(err))
			return nil
		}
		if !p.Reserved {
			return nil
		}
		n, err := s.Repo.Commit(ctx, p.OrderID)
		if err != nil {
			return err
		}
		l.Debug("reservation committed", zap.String("order_id", p.OrderID), zap.Int64("rows", n))

	case events.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[events.OrderCancelledPayload](env.Payload)
		if err != nil {
			l.Error("bad payload", zap.Error(err))
			return nil
		}
		if _, err := s.Release(ctx, p.OrderID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, p Publisher, eventType, reservationID string, items []Item) {
	if p == nil {
		return
	}
	qty := make([]events.ItemQty, 0, len(items))
	for _, it := range items {
		qty = append(qty, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	ev := events.NewEnvelope(eventType, s.ServiceName, middleware.GetReqID(ctx), reservationID,
		kafkax.MustMarshal(events.StockChangedPayload{ReservationID: reservationID, Items: qty}))
	p.Publish(events.PartitionKey(reservationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
