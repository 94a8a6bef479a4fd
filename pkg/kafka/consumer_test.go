package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotIsStablePerKey(t *testing.T) {
	for _, key := range []string{"1.2001", "1.2002", "1.98765"} {
		first := Slot([]byte(key), 0, 8)
		for p := 0; p < 5; p++ {
			assert.Equal(t, first, Slot([]byte(key), p, 8))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
	}
	assert.Equal(t, 3, Slot(nil, 11, 4))
	assert.Equal(t, 0, Slot([]byte("x"), 3, 1))
}

func TestHookChainOrderAndPanic(t *testing.T) {
	var calls []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				calls = append(calls, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				calls = append(calls, "after:"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))
	_, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">ab", string(data))
	chain.AfterHandle(context.Background(), "t", kafka.Message{}, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, calls)

	var onErr int
	panicky := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		},
		Err: func(context.Context, string, kafka.Message, []byte, error) { onErr++ },
	}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, 1, onErr)
}

func TestContextHelpers(t *testing.T) {
	now := time.Now()
	ctx := WithTraceID(WithStartTime(context.Background(), now), "")
	got, ok := StartTime(ctx)
	require.True(t, ok)
	assert.Equal(t, now, got)
	assert.Nil(t, ctx.Value(CtxTraceID))

	msg := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	assert.Equal(t, "abc", ExtractTraceID(msg))
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorContains(t, err, "brokers are required")
	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, `unknown compression "brotli"`)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithBatching(0, 0, time.Second))
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, p.writer.Compression)
	assert.Equal(t, 50, p.writer.BatchSize)
	assert.Equal(t, time.Second, p.writer.BatchTimeout)
	require.NoError(t, p.Close())

	_, err = NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRetry(1, time.Second, 10*time.Millisecond))
	assert.ErrorContains(t, err, "backoff max")
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(0), WithConsumerGroupID(""))
	require.NoError(t, err)
	assert.Len(t, c.queues, 4)
	assert.Equal(t, "betpull", c.cfg.GroupID)
}

func TestEncode(t *testing.T) {
	b, err := encode(map[string]string{"market_id": "1.2001"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"market_id":"1.2001"}`, string(b))
	b, err = encode("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))
	_, err = encode(func() {})
	assert.Error(t, err)
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t-1")
	assert.Equal(t, "t-1", TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))

	var seen string
	hook := NewHookChain(LagHook(), HookFuncs{
		Err: func(ctx context.Context, _ string, _ kafka.Message, _ []byte, _ error) { seen = TraceID(ctx) },
	})
	km := kafka.Message{Time: time.Now().Add(-time.Second)}
	hook.AfterHandle(WithStartTime(ctx, time.Now()), "betpull.snapshots", km, nil, nil)
	hook.OnError(ctx, "betpull.snapshots", km, nil, errors.New("store down"))
	assert.Equal(t, "t-1", seen)
}
