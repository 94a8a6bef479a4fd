package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches []LogBatch
	keys    []string
}

func (p *capturePublisher) Publish(_ context.Context, _ string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, value.(LogBatch))
	p.keys = append(p.keys, string(key))
	return nil
}

func (p *capturePublisher) all() []LogBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogBatch(nil), p.batches...)
}

func TestCollectorAggregatesRepeatsAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub, Source: "node-1"})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "persist runner failed", map[string]interface{}{"attempt": i}, "internal/market/handler.go:10")
	}
	c.AddLog("error", "trade tick failed", nil, "internal/market/handler.go:20")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	c.Close()

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"node-1"}, pub.keys)
	b := batches[0]
	assert.Equal(t, "node-1", b.Source)
	require.Len(t, b.Entries, 2)
	assert.Equal(t, "persist runner failed", b.Entries[0].Message)
	assert.Equal(t, 3, b.Entries[0].Count)
	assert.Equal(t, 2, b.Entries[0].Fields["attempt"])
	assert.Equal(t, 1, b.Entries[1].Count)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Equal(t, 0, c.Pending())
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, pub.all()[0].Entries, 2)
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	child := l.With(MarketID("1.234"))

	child.Error("save failed", SelectionID(7), Error(errors.New("boom")))
	child.Warn("not collected")
	l.RemoveCollector()

	batches := pub.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 1)
	e := batches[0].Entries[0]
	assert.Equal(t, "save failed", e.Message)
	assert.Equal(t, int64(7), e.Fields["selection_id"])
	assert.Equal(t, "boom", e.Fields["error"])
	assert.Contains(t, e.Caller, "collector_test.go")
}
