package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidItem     = errors.New("invalid cart item")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
)

// Item is one cart line. Price and name are what the user saw when adding it.
type Item struct {
	ProductID    string          `json:"product_id"`
	Qty          int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ProductName  string          `json:"product_name"`
	ProductImage string          `json:"product_image,omitempty"`
	AddedAt      time.Time       `json:"added_at"`
}

func (it Item) validate() error {
	switch {
	case it.ProductID == "":
		return fmt.Errorf("%w: missing product id", ErrInvalidItem)
	case it.Qty <= 0:
		return ErrInvalidQuantity
	case it.UnitPrice.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidItem)
	}
	return nil
}

// Store keeps one Redis hash per user (field = product id) with a sliding TTL.
type Store struct {
	Redis redis.Cmdable
	TTL   time.Duration
	Now   func() time.Time
}

func NewStore(rdb redis.Cmdable) *Store {
	return &Store{Redis: rdb, TTL: redisx.TTLCart, Now: time.Now}
}

func key(userID string) string { return fmt.Sprintf(redisx.KeyCart, userID) }

// Items returns the cart ordered by the time each product was first added.
func (s *Store) Items(ctx context.Context, userID string) ([]Item, error) {
	raw, err := s.Redis.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(raw))
	for pid, v := range raw {
		var it Item
		if err := json.Unmarshal([]byte(v), &it); err != nil {
			return nil, fmt.Errorf("decode cart item %s: %w", pid, err)
		}
		it.ProductID = pid
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].AddedAt.Before(items[j].AddedAt)
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items, nil
}

// addScript merges a line into the cart hash atomically: quantities add up,
// the first added_at is kept, price and name come from the new line.
var addScript = redis.NewScript(`
local item = cjson.decode(ARGV[2])
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local prev = cjson.decode(cur)
  item['quantity'] = item['quantity'] + prev['quantity']
  item['added_at'] = prev['added_at']
end
local out = cjson.encode(item)
redis.call('HSET', KEYS[1], ARGV[1], out)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return out
`)

// Add puts a product in the cart; adding a product already present adds to
// its quantity and refreshes the price and name.
func (s *Store) Add(ctx context.Context, userID string, it Item) (Item, error) {
	if err := it.validate(); err != nil {
		return Item{}, err
	}
	it.AddedAt = s.Now().UTC()
	b, err := json.Marshal(it)
	if err != nil {
		return Item{}, err
	}

	raw, err := addScript.Run(ctx, s.Redis, []string{key(userID)}, it.ProductID, b, int64(s.TTL.Seconds())).Text()
	if err != nil {
		return Item{}, err
	}
	var saved Item
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return Item{}, fmt.Errorf("decode cart item %s: %w", it.ProductID, err)
	}
	saved.ProductID = it.ProductID
	return saved, nil
}

func (s *Store) SetQuantity(ctx context.Context, userID, productID string, qty int) (Item, error) {
	if qty <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	it, err := s.get(ctx, userID, productID)
	if err != nil {
		return Item{}, err
	}
	it.Qty = qty
	return it, s.put(ctx, userID, it)
}

func (s *Store) Remove(ctx context.Context, userID, productID string) error {
	return s.Redis.HDel(ctx, key(userID), productID).Err()
}

func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.Redis.Del(ctx, key(userID)).Err()
}

// Subtotal sums the cart lines rounded to cents.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return sum.Round(2)
}

func (s *Store) get(ctx context.Context, userID, productID string) (Item, error) {
	v, err := s.Redis.HGet(ctx, key(userID), productID).Result()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, err
	}
	var it Item
	if err := json.Unmarshal([]byte(v), &it); err != nil {
		return Item{}, fmt.Errorf("decode cart item %s: %w", productID, err)
	}
	it.ProductID = productID
	return it, nil
}

func (s *Store) put(ctx context.Context, userID string, it Item) error {
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	k := key(userID)
	_, err = s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, it.ProductID, b)
		p.Expire(ctx, k, s.TTL)
		return nil
	})
	return err
}
