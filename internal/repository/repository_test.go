package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BetPull/internal/domain/models"
	"BetPull/internal/feature"
	"BetPull/internal/service/ratelimit"
	"BetPull/pkg/cache"
)

var t0 = time.Date(2024, 6, 1, 14, 58, 0, 0, time.UTC)

func TestFeatureRows(t *testing.T) {
	r := &models.RunnerResult{
		MarketID:    "1.1",
		SelectionID: 42,
		ClosedAt:    t0.Add(time.Minute),
		Features: map[string][]models.FeaturePoint{
			"wom": {{Time: t0, Value: 0.4}, {Time: t0.Add(time.Second), Value: nil}},
			"reg": {{Time: t0, Value: feature.RegressionResult{Gradient: 0.5}}},
		},
	}

	rows, err := featureRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "reg", rows[0].FeatureID)
	assert.Nil(t, rows[0].Value)
	assert.Contains(t, rows[0].Raw, "0.5")

	assert.Equal(t, "wom", rows[1].FeatureID)
	require.NotNil(t, rows[1].Value)
	assert.Equal(t, 0.4, *rows[1].Value)
	assert.Equal(t, int64(42), rows[1].SelectionID)

	assert.Nil(t, rows[2].Value)
	assert.Empty(t, rows[2].Raw)
}

func TestCacheOrderLog(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	log := NewCacheOrderLog(mc, time.Hour)

	got, err := log.LoadOrders(ctx, "1.1", 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	recs := []models.OrderRecord{{
		Intent:      models.OrderIntent{OrderID: "a", MarketID: "1.1", SelectionID: 7, Side: models.SideBack, Price: 2, Size: 10},
		SizeMatched: 10,
		Status:      models.OrderExecutionComplete,
	}}
	require.NoError(t, log.SaveOrders(ctx, "1.1", 7, recs))
	require.NoError(t, log.SaveOrders(ctx, "1.1", 3, nil))
	require.NoError(t, log.SaveOrders(ctx, "1.1", 7, recs))

	got, err = log.LoadOrders(ctx, "1.1", 7)
	require.NoError(t, err)
	assert.Equal(t, recs[0].Intent.OrderID, got[0].Intent.OrderID)
	assert.Equal(t, models.OrderExecutionComplete, got[0].Status)

	market, err := log.LoadMarket(ctx, "1.1")
	require.NoError(t, err)
	assert.Len(t, market, 2)
	assert.Len(t, market[7], 1)

	index, err := mc.SMembers(ctx, "orders:1.1:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "7"}, index)

	empty, err := log.LoadMarket(ctx, "9.9")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPaperExchange(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExchange(1)
	in := models.OrderIntent{OrderID: "o1", MarketID: "1.1", Price: 3, Size: 4, Placed: t0}

	require.NoError(t, p.Submit(ctx, in))
	assert.Error(t, p.Submit(ctx, in))
	u, ok := p.Latest("o1")
	require.True(t, ok)
	assert.Equal(t, models.OrderExecutionComplete, u.Status)
	assert.Equal(t, 4.0, u.SizeMatched)
	require.NoError(t, p.Cancel(ctx, "1.1", "o1"))
	u, _ = p.Latest("o1")
	assert.Equal(t, models.OrderExecutionComplete, u.Status)

	half := NewPaperExchange(0.5)
	require.NoError(t, half.Submit(ctx, in))
	u, _ = half.Latest("o1")
	assert.Equal(t, models.OrderExecutable, u.Status)
	assert.Equal(t, 2.0, u.SizeMatched)
	require.NoError(t, half.Cancel(ctx, "1.1", "o1"))
	u, _ = half.Latest("o1")
	assert.Equal(t, models.OrderCancelled, u.Status)

	assert.Error(t, half.Cancel(ctx, "1.1", "nope"))
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	cmds []OrderCommand
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, string(key))
	p.cmds = append(p.cmds, value.(OrderCommand))
	return nil
}

func TestKafkaOrderExecutorPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewKafkaOrderExecutor(pub, "orders", nil)

	ctx := context.Background()
	require.NoError(t, e.Submit(ctx, models.OrderIntent{OrderID: "a", MarketID: "1.1", Side: models.SideBack}))
	require.NoError(t, e.Cancel(ctx, "1.1", "a"))
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Submit(ctx, models.OrderIntent{OrderID: "b", MarketID: "1.1"}), ErrExecutorClosed)
	require.Len(t, pub.cmds, 2)
	assert.Equal(t, []string{"1.1", "1.1"}, pub.keys)
	assert.Equal(t, ActionPlace, pub.cmds[0].Action)
	assert.Equal(t, "a", pub.cmds[0].Intent.OrderID)
	assert.Equal(t, ActionCancel, pub.cmds[1].Action)
	assert.Nil(t, pub.cmds[1].Intent)
}

func TestKafkaOrderExecutorRateLimitsPerMarket(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	e := NewKafkaOrderExecutor(pub, "orders", ratelimit.New(0, 2))
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.Submit(ctx, models.OrderIntent{OrderID: "1", MarketID: "1.1"}))
	require.NoError(t, e.Submit(ctx, models.OrderIntent{OrderID: "2", MarketID: "1.1"}))
	assert.ErrorIs(t, e.Submit(ctx, models.OrderIntent{OrderID: "3", MarketID: "1.1"}), ErrRateLimited)
	assert.NoError(t, e.Submit(ctx, models.OrderIntent{OrderID: "4", MarketID: "1.2"}))
	assert.NoError(t, e.Cancel(ctx, "1.1", "1"))
}

type flakyStore struct {
	*MemoryResultStore
	fail int
}

func (s *flakyStore) SaveRunner(ctx context.Context, r *models.RunnerResult) error {
	if s.fail > 0 {
		s.fail--
		return errors.New("clickhouse unavailable")
	}
	return s.MemoryResultStore.SaveRunner(ctx, r)
}

type inlineQueue struct {
	job  *SaveRunnerJob
	err  error
	sent int
}

func (q *inlineQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.sent++
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.job.Handle(ctx, b)
}

func TestRetryingResultStoreDefersFailedSaves(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryResultStore: NewMemoryResultStore(), fail: 1}
	q := &inlineQueue{job: NewSaveRunnerJob(inner)}
	store := NewRetryingResultStore(inner, q, nil, nil)

	r := &models.RunnerResult{
		MarketID:    "1.9",
		SelectionID: 3,
		ClosedAt:    t0,
		Features:    map[string][]models.FeaturePoint{"ltp": {{Time: t0, Value: 2.5}}},
	}
	require.NoError(t, store.SaveRunner(ctx, r))
	assert.Equal(t, 1, q.sent)

	saved := inner.Market("1.9")
	require.Len(t, saved, 1)
	assert.Equal(t, int64(3), saved[0].SelectionID)
	assert.Equal(t, 2.5, saved[0].Features["ltp"][0].Value)

	inner.fail = 1
	q.err = errors.New("redis down")
	assert.Error(t, store.SaveRunner(ctx, r))
}
