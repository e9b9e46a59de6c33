package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Reserve(ctx context.Context, id string, items []Item) error {
	return m.Called(ctx, id, items).Error(0)
}

func (m *mockStore) Release(ctx context.Context, id string, items []Item) ([]Item, error) {
	args := m.Called(ctx, id, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Item), args.Error(1)
}

func (m *mockStore) Commit(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, pid string) (Record, error) {
	args := m.Called(ctx, pid)
	return args.Get(0).(Record), args.Error(1)
}

func (m *mockStore) SetStock(ctx context.Context, pid string, qty int) (Record, error) {
	args := m.Called(ctx, pid, qty)
	return args.Get(0).(Record), args.Error(1)
}

func (m *mockStore) Stale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]string), args.Error(1)
}

type capture struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *capture) Publish(key, value []byte, headers ...kafkago.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, value)
}

func (c *capture) envelopes(t *testing.T) []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Envelope, 0, len(c.msgs))
	for _, m := range c.msgs {
		var env events.Envelope
		require.NoError(t, json.Unmarshal(m, &env))
		out = append(out, env)
	}
	return out
}

func newService(t *testing.T) (*Service, *mockStore, *capture, *capture) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &mockStore{}
	reserved, released := &capture{}, &capture{}
	return &Service{
		Repo:        store,
		Redis:       rdb,
		Reserved:    reserved,
		Released:    released,
		ServiceName: "inventory",
	}, store, reserved, released
}

func orderEvent(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := events.NewEnvelope(eventType, "order-api", "", "o-1", kafkax.MustMarshal(payload))
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestService_ReservePublishes(t *testing.T) {
	svc, store, reserved, _ := newService(t)
	ctx := context.Background()
	items := []Item{{ProductID: "A", Qty: 2}}

	store.On("Reserve", ctx, "o-1", items).Return(nil).Once()
	require.NoError(t, svc.Reserve(ctx, "o-1", items))

	envs := reserved.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventStockReserved, envs[0].EventType)
	assert.Equal(t, "o-1", envs[0].CorrelationID)

	store.On("Reserve", ctx, "o-2", items).Return(&InsufficientStockError{ProductID: "A"}).Once()
	assert.Error(t, svc.Reserve(ctx, "o-2", items))
	assert.Len(t, reserved.envelopes(t), 1)
	store.AssertExpectations(t)
}

func TestService_ReleasePublishesOnlyWhenSomethingWasCredited(t *testing.T) {
	svc, store, _, released := newService(t)
	ctx := context.Background()

	store.On("Release", ctx, "o-1", []Item(nil)).Return([]Item{{ProductID: "A", Qty: 2}}, nil).Once()
	store.On("Release", ctx, "o-1", []Item(nil)).Return([]Item{}, nil).Once()

	_, err := svc.Release(ctx, "o-1", nil)
	require.NoError(t, err)
	_, err = svc.Release(ctx, "o-1", nil)
	require.NoError(t, err)

	assert.Len(t, released.envelopes(t), 1)
	store.AssertExpectations(t)
}

func TestService_HandleOrderEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("created commits reservation once", func(t *testing.T) {
		svc, store, _, _ := newService(t)
		msg := orderEvent(t, events.EventOrderCreated, events.OrderCreatedPayload{OrderID: "o-1", Reserved: true})
		store.On("Commit", ctx, "o-1").Return(int64(1), nil).Once()

		require.NoError(t, svc.HandleOrderEvent(ctx, msg))
		require.NoError(t, svc.HandleOrderEvent(ctx, msg))
		store.AssertExpectations(t)
	})

	t.Run("created without reservation is ignored", func(t *testing.T) {
		svc, store, _, _ := newService(t)
		msg := orderEvent(t, events.EventOrderCreated, events.OrderCreatedPayload{OrderID: "o-1"})

		require.NoError(t, svc.HandleOrderEvent(ctx, msg))
		store.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("cancelled releases", func(t *testing.T) {
		svc, store, _, released := newService(t)
		msg := orderEvent(t, events.EventOrderCancelled, events.OrderCancelledPayload{OrderID: "o-1"})
		store.On("Release", ctx, "o-1", []Item(nil)).Return([]Item{{ProductID: "A", Qty: 1}}, nil).Once()

		require.NoError(t, svc.HandleOrderEvent(ctx, msg))
		assert.Len(t, released.envelopes(t), 1)
		store.AssertExpectations(t)
	})

	t.Run("failure frees the dedup key for redelivery", func(t *testing.T) {
		svc, store, _, _ := newService(t)
		msg := orderEvent(t, events.EventOrderCreated, events.OrderCreatedPayload{OrderID: "o-1", Reserved: true})
		store.On("Commit", ctx, "o-1").Return(int64(0), errors.New("db down")).Once()
		store.On("Commit", ctx, "o-1").Return(int64(1), nil).Once()

		assert.Error(t, svc.HandleOrderEvent(ctx, msg))
		assert.NoError(t, svc.HandleOrderEvent(ctx, msg))
		store.AssertExpectations(t)
	})

	t.Run("garbage and foreign events are skipped", func(t *testing.T) {
		svc, store, _, _ := newService(t)

		assert.NoError(t, svc.HandleOrderEvent(ctx, kafkago.Message{Value: []byte("not json")}))
		assert.NoError(t, svc.HandleOrderEvent(ctx, orderEvent(t, "PaymentCaptured", map[string]string{})))
		store.AssertExpectations(t)
	})
}
