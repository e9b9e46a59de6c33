package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset
// may be committed. A non-nil error is retried; undecodable messages should
// be logged and acknowledged with nil.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers)
}

func newConsumer(r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, retryInitial: 200 * time.Millisecond, retryMax: 10 * time.Second}
}

// Start blocks until ctx is cancelled or the reader fails.
//
// Every partition is pinned to one worker, and a worker does not move past a
// message until its handler succeeds, so a committed offset never skips an
// unprocessed message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, id, m, h)
			}
		}(i, queues[i])
	}
	defer wg.Wait()
	closeAll := func() {
		for _, q := range queues {
			close(q)
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			closeAll()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[m.Partition%len(queues)] <- m:
		case <-ctx.Done():
			closeAll()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, worker int, m kafka.Message, h Handler) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error { return h(ctx, m) }, backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			logger.L().Error("consumer handler failed",
				zap.Int("worker", worker), zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
				zap.Duration("retry_in", next), zap.Error(err))
		})
	if err != nil {
		// shutting down; the uncommitted message is delivered again on restart
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		logger.L().Warn("commit offset failed", zap.Int("worker", worker), zap.Error(err))
	}
}
