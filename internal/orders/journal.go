package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Journal records saga progress for operators. Writes are best effort.
type Journal interface {
	Record(ctx context.Context, orderID string, state SagaState)
}

// RedisJournal keeps hash saga:{order_id}, one field per state reached.
type RedisJournal struct {
	Redis redis.Cmdable
}

func (j *RedisJournal) Record(ctx context.Context, orderID string, state SagaState) {
	key := fmt.Sprintf(redisx.KeySaga, orderID)
	_, err := j.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, string(state), time.Now().UTC().Format(time.RFC3339Nano))
		p.HSet(ctx, key, "current", string(state))
		p.Expire(ctx, key, redisx.TTLSaga)
		return nil
	})
	if err != nil {
		logger.FromCtx(ctx).Debug("saga journal write failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
