package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer buffers messages in an inbox and writes them from a single
// goroutine, so Publish never waits on the broker.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					logger.L().Error("kafka write failed",
						zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop. Cancelling ctx has the same effect as Close.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.closeCh:
		}
	}()
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				logger.L().Error("kafka enqueue failed", zap.String("topic", p.w.Topic), zap.Error(err))
			}
		}
		if err := p.w.Close(); err != nil {
			logger.L().Warn("kafka writer close", zap.String("topic", p.w.Topic), zap.Error(err))
		}
	}()
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logger.L().Warn("kafka producer closed, message dropped", zap.String("topic", p.w.Topic))
		return
	}
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the loop flushes what is buffered and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the buffered messages are flushed.
func (p *Producer) WaitClosed() { <-p.closeCh }
