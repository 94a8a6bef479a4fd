package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed JSON payloads: order commands, dead letters and aggregated error logs.
type Producer struct {
	writer      *kafka.Writer
	compression string
	metrics     *producerMetrics
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compressions[cfg.Compression],
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
		},
		compression: cfg.Compression,
		metrics:     sharedProducerMetrics(),
	}, nil
}

// Message is one keyed payload. []byte and string values are sent as-is, anything else as JSON.
type Message struct {
	Key   []byte
	Value interface{}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch writes messages in one call. A trace id on ctx travels as the trace_id header.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := time.Now()
	var headers []kafka.Header
	if id := TraceID(ctx); id != "" {
		headers = []kafka.Header{{Key: traceHeader, Value: []byte(id)}}
	}

	msgs := make([]kafka.Message, len(messages))
	var size int
	for i, m := range messages {
		value, err := encode(m.Value)
		if err != nil {
			return fmt.Errorf("kafka publish %s: %w", topic, err)
		}
		msgs[i] = kafka.Message{Topic: topic, Key: m.Key, Value: value, Headers: headers, Time: start}
		size += len(value)
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	p.metrics.observe(topic, p.compression, len(msgs), size, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerMetricsOnce sync.Once
	producerMetricsInst *producerMetrics
)

// sharedProducerMetrics registers the collectors once per process; every Producer reports into them.
func sharedProducerMetrics() *producerMetrics {
	producerMetricsOnce.Do(func() {
		producerMetricsInst = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "betpull_kafka_producer_messages_total",
				Help: "Messages published to Kafka",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "betpull_kafka_producer_bytes_total",
				Help: "Payload bytes published",
			}, []string{"topic", "compression"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "betpull_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return producerMetricsInst
}

func (m *producerMetrics) observe(topic, compression string, count, size int, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(count))
	m.bytes.WithLabelValues(topic, compression).Add(float64(size))
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
