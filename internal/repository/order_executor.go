package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	applogger "BetPull/pkg/logger"
)

var (
	ErrRateLimited    = errors.New("order executor: rate limited")
	ErrQueueFull      = errors.New("order executor: queue full")
	ErrExecutorClosed = errors.New("order executor: closed")
)

// Publisher sends a keyed message; *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Limiter gates intents per market.
type Limiter interface {
	Allow(key string) bool
}

const (
	ActionPlace  = "place"
	ActionCancel = "cancel"
)

// OrderCommand is the message published for each intent.
type OrderCommand struct {
	Action   string              `json:"action"`
	MarketID string              `json:"market_id"`
	OrderID  string              `json:"order_id"`
	Intent   *models.OrderIntent `json:"intent,omitempty"`
	SentAt   time.Time           `json:"sent_at"`
}

// KafkaOrderExecutor queues intents and publishes them from a background worker keyed by
// market id, so callers never wait on the broker.
type KafkaOrderExecutor struct {
	pub     Publisher
	topic   string
	limiter Limiter
	log     *applogger.Logger
	metrics domrepo.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan OrderCommand
	wg     sync.WaitGroup
}

var _ domrepo.OrderExecutor = (*KafkaOrderExecutor)(nil)

type ExecutorOption func(*KafkaOrderExecutor)

func WithExecutorLogger(l *applogger.Logger) ExecutorOption {
	return func(e *KafkaOrderExecutor) { e.log = l }
}

func WithExecutorMetrics(m domrepo.Metrics) ExecutorOption {
	return func(e *KafkaOrderExecutor) { e.metrics = m }
}

// WithExecutorQueue sets the queue capacity.
func WithExecutorQueue(n int) ExecutorOption {
	return func(e *KafkaOrderExecutor) {
		if n > 0 {
			e.queue = make(chan OrderCommand, n)
		}
	}
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) ExecutorOption {
	return func(e *KafkaOrderExecutor) { e.timeout = d }
}

// NewKafkaOrderExecutor starts the publishing worker. limiter may be nil.
func NewKafkaOrderExecutor(pub Publisher, topic string, limiter Limiter, opts ...ExecutorOption) *KafkaOrderExecutor {
	e := &KafkaOrderExecutor{
		pub:     pub,
		topic:   topic,
		limiter: limiter,
		log:     applogger.Nop(),
		timeout: 5 * time.Second,
		queue:   make(chan OrderCommand, 256),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *KafkaOrderExecutor) Submit(_ context.Context, intent models.OrderIntent) error {
	if e.limiter != nil && !e.limiter.Allow(intent.MarketID) {
		e.recordError("order_rate_limited")
		return ErrRateLimited
	}
	return e.enqueue(OrderCommand{
		Action:   ActionPlace,
		MarketID: intent.MarketID,
		OrderID:  intent.OrderID,
		Intent:   &intent,
		SentAt:   intent.Placed,
	})
}

// Cancel is not rate limited; cancelling must always be possible.
func (e *KafkaOrderExecutor) Cancel(_ context.Context, marketID, orderID string) error {
	return e.enqueue(OrderCommand{
		Action:   ActionCancel,
		MarketID: marketID,
		OrderID:  orderID,
		SentAt:   time.Now().UTC(),
	})
}

func (e *KafkaOrderExecutor) enqueue(cmd OrderCommand) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- cmd:
		return nil
	default:
		e.recordError("order_queue_full")
		return ErrQueueFull
	}
}

func (e *KafkaOrderExecutor) run() {
	defer e.wg.Done()
	for cmd := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		start := time.Now()
		err := e.pub.Publish(ctx, e.topic, []byte(cmd.MarketID), cmd)
		cancel()
		if err != nil {
			e.log.Error("publish order command failed",
				applogger.String("action", cmd.Action),
				applogger.MarketID(cmd.MarketID),
				applogger.String("order_id", cmd.OrderID),
				applogger.Error(err))
			e.recordError("order_publish")
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordLatency("order_publish", time.Since(start).Seconds())
		}
	}
}

// Close stops accepting commands and drains the queue.
func (e *KafkaOrderExecutor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *KafkaOrderExecutor) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}
