package orders

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory inventory with all-or-nothing reservations.
type fakeLedger struct {
	mu    sync.Mutex
	stock map[string]int
	held  map[string][]inventory.Item

	reserveErr   error
	landThenFail bool
	releaseErr   error
	onReserve    func()

	released  []string
	committed []string
	stale     []string
}

func newLedger(stock map[string]int) *fakeLedger {
	return &fakeLedger{stock: stock, held: map[string][]inventory.Item{}}
}

func (l *fakeLedger) Reserve(ctx context.Context, id string, items []inventory.Item) error {
	if l.onReserve != nil {
		l.onReserve()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil && !l.landThenFail {
		return l.reserveErr
	}
	if _, ok := l.held[id]; ok {
		return nil
	}
	for _, it := range items {
		if l.stock[it.ProductID] < it.Qty {
			return &inventory.InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty, Available: l.stock[it.ProductID]}
		}
	}
	for _, it := range items {
		l.stock[it.ProductID] -= it.Qty
	}
	l.held[id] = items
	return l.reserveErr
}

func (l *fakeLedger) Release(ctx context.Context, id string, _ []inventory.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, id)
	if l.releaseErr != nil {
		return l.releaseErr
	}
	for _, it := range l.held[id] {
		l.stock[it.ProductID] += it.Qty
	}
	delete(l.held, id)
	return nil
}

func (l *fakeLedger) Commit(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = append(l.committed, id)
	delete(l.held, id)
	return nil
}

func (l *fakeLedger) Stale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return l.stale, nil
}

func (l *fakeLedger) level(pid string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[pid]
}

type fakeStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	createErr error
	getErr    error
	// ctxErr is the context error seen when CreateOrder ran
	ctxErr error
}

func newFakeStore() *fakeStore { return &fakeStore{orders: map[string]*Order{}} }

func (s *fakeStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	return ok, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, to Status) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return "", ErrNotFound
	}
	from := o.Status
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	o.Status = to
	return from, nil
}

func (s *fakeStore) UpdatePaymentStatus(ctx context.Context, id string, to PaymentStatus) (PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return "", ErrNotFound
	}
	from := o.PaymentStatus
	if !CanTransitionPayment(from, to) {
		return from, ErrInvalidTransition
	}
	o.PaymentStatus = to
	return from, nil
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
	t.Helper()
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

// cancelOnUpdate drops the caller's context right after a status change commits.
type cancelOnUpdate struct {
	*fakeStore
	cancel context.CancelFunc
}

func (s cancelOnUpdate) UpdateStatus(ctx context.Context, id string, to Status) (Status, error) {
	from, err := s.fakeStore.UpdateStatus(ctx, id, to)
	s.cancel()
	return from, err
}
