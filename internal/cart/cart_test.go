package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewStore(rdb)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s, mr
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStore_AddAndItems(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", Item{ProductID: "B", Qty: 1, UnitPrice: price("20"), ProductName: "Bag"})
	require.NoError(t, err)
	_, err = s.Add(ctx, "u1", Item{ProductID: "A", Qty: 2, UnitPrice: price("10"), ProductName: "Apple"})
	require.NoError(t, err)

	items, err := s.Items(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].ProductID, "insertion order")
	assert.Equal(t, "A", items[1].ProductID)
	assert.True(t, items[1].UnitPrice.Equal(price("10")))
	assert.Equal(t, "40", Subtotal(items).String())

	assert.Equal(t, 24*time.Hour, mr.TTL("cart:u1"))
}

func TestStore_AddMergesQuantity(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, "u1", Item{ProductID: "A", Qty: 1, UnitPrice: price("10")})
	require.NoError(t, err)
	merged, err := s.Add(ctx, "u1", Item{ProductID: "A", Qty: 2, UnitPrice: price("9.50")})
	require.NoError(t, err)

	assert.Equal(t, 3, merged.Qty)
	assert.True(t, merged.UnitPrice.Equal(price("9.5")))
	assert.True(t, first.AddedAt.Equal(merged.AddedAt))
}

func TestStore_Validation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", Item{ProductID: "A", Qty: 0, UnitPrice: price("1")})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = s.Add(ctx, "u1", Item{Qty: 1})
	assert.ErrorIs(t, err, ErrInvalidItem)
	_, err = s.Add(ctx, "u1", Item{ProductID: "A", Qty: 1, UnitPrice: price("-1")})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestStore_SetQuantityRemoveClear(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.SetQuantity(ctx, "u1", "A", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = s.Add(ctx, "u1", Item{ProductID: "A", Qty: 1, UnitPrice: price("10")})
	require.NoError(t, err)
	_, err = s.Add(ctx, "u1", Item{ProductID: "B", Qty: 1, UnitPrice: price("5")})
	require.NoError(t, err)

	it, err := s.SetQuantity(ctx, "u1", "A", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, it.Qty)

	require.NoError(t, s.Remove(ctx, "u1", "B"))
	items, err := s.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, s.Clear(ctx, "u1"))
	items, err = s.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_ExpiresAfterTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", Item{ProductID: "A", Qty: 1, UnitPrice: price("10")})
	require.NoError(t, err)

	mr.FastForward(25 * time.Hour)

	items, err := s.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_ConcurrentAddsKeepEveryUnit(t *testing.T) {
	s, _ := newStore(t)
	s.Now = time.Now
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "u1", Item{ProductID: "A", Qty: 1, UnitPrice: price("10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := s.Items(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 20, items[0].Qty)
}
