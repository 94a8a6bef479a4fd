package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var compressions = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

type ProducerOption func(*ProducerConfig)

// ProducerConfig describes the writer behind Producer. Snapshots and order commands are keyed by
// market id, so HashByKey keeps one market on one partition.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int // -1 waits for all replicas
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	Async        bool
	HashByKey    bool
}

func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchSize:    50,
		BatchBytes:   1 << 20,
		BatchTimeout: 10 * time.Millisecond,
		HashByKey:    true,
	}
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka producer: brokers are required")
	}
	if _, ok := compressions[c.Compression]; !ok {
		return fmt.Errorf("kafka producer: unknown compression %q", c.Compression)
	}
	if c.RequiredAcks < -1 {
		return fmt.Errorf("kafka producer: invalid required acks %d", c.RequiredAcks)
	}
	return nil
}

// setPositive leaves dst alone for zero or negative values so callers can pass unset config.
func setPositive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithCompression takes gzip, snappy, lz4 or zstd.
func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = compression }
}

func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) { setPositive(&c.MaxAttempts, n) }
}

func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		setPositive(&c.BatchSize, size)
		setPositive(&c.BatchBytes, bytes)
		setPositive(&c.BatchTimeout, linger)
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		setPositive(&c.WriteTimeout, write)
		setPositive(&c.ReadTimeout, read)
	}
}

// WithAsync makes Publish return before the broker acknowledges.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig describes the group readers and the keyed worker pool.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

func defaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		GroupID:     "betpull",
		WorkerCount: 4,
		BufferSize:  256,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
}

func (c *ConsumerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka consumer: brokers are required")
	}
	if c.GroupID == "" {
		return errors.New("kafka consumer: group id is required")
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("kafka consumer: backoff max %s below min %s", c.BackoffMax, c.BackoffMin)
	}
	return nil
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerWorkers sets the number of keyed workers; one market always maps to one worker.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { setPositive(&c.WorkerCount, count) }
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) { setPositive(&c.BufferSize, n) }
}

// WithConsumerRetry sets how often a failing handler is retried before the message is dead-lettered.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		setPositive(&c.BackoffMin, backoffMin)
		setPositive(&c.BackoffMax, backoffMax)
	}
}

func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		setPositive(&c.MinBytes, minBytes)
		setPositive(&c.MaxBytes, maxBytes)
	}
}
