package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BetPull/internal/domain/models"
	"BetPull/internal/feature"
	"BetPull/internal/gate"
	"BetPull/internal/market"
	"BetPull/internal/middleware"
	"BetPull/internal/repository"
)

type safeMetrics struct {
	mu     sync.Mutex
	errors map[string]int
	active int
}

func newSafeMetrics() *safeMetrics { return &safeMetrics{errors: map[string]int{}} }

func (m *safeMetrics) RecordSnapshot(string)         {}
func (m *safeMetrics) RecordLatency(string, float64) {}
func (m *safeMetrics) RecordOrder(string, string)    {}
func (m *safeMetrics) RecordMarketEvent(string)      {}
func (m *safeMetrics) RecordStateTransition(string)  {}

func (m *safeMetrics) RecordError(k string) {
	m.mu.Lock()
	m.errors[k]++
	m.mu.Unlock()
}

func (m *safeMetrics) SetActiveMarkets(n int) {
	m.mu.Lock()
	m.active = n
	m.mu.Unlock()
}

func (m *safeMetrics) errorCount(k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[k]
}

type forgetter struct {
	mu   sync.Mutex
	keys []string
}

func (f *forgetter) Forget(key string) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
}

var raceStart = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func marketSnap(id string, secondsToGo int, status models.MarketStatus) *models.Snapshot {
	return &models.Snapshot{
		MarketID:        id,
		Timestamp:       raceStart.Add(-time.Duration(secondsToGo) * time.Second),
		MarketStartTime: raceStart,
		Status:          status,
		Runners: []models.RunnerSnapshot{
			{SelectionID: 1, LastTradedPrice: 3.0, Back: []models.PriceSize{{Price: 3, Size: 10}}},
			{SelectionID: 2, LastTradedPrice: 4.5, Back: []models.PriceSize{{Price: 4.4, Size: 10}}},
		},
	}
}

func routerFixture(shards int) (*Router, *repository.MemoryResultStore, *safeMetrics, *forgetter) {
	store := repository.NewMemoryResultStore()
	metrics := newSafeMetrics()
	f := &forgetter{}
	mcfg := market.Config{
		Gates:    gate.Offsets{FeatureStart: time.Hour, TradeAllowed: time.Minute, Cutoff: 10 * time.Second},
		Features: feature.Config{"ltp": {Class: feature.ClassLTP}},
	}
	r := NewRouter(RouterConfig{Shards: shards, QueueSize: 4, ClosedRetention: time.Minute},
		mcfg, market.Deps{Results: store, Metrics: metrics}, f)
	return r, store, metrics, f
}

func TestRouterKeepsPerMarketOrderAndFinalizes(t *testing.T) {
	r, store, metrics, f := routerFixture(3)
	ctx := context.Background()
	r.Start(ctx)

	for togo := 30; togo > 0; togo-- {
		require.NoError(t, r.Dispatch(ctx, marketSnap("1.1", togo, models.MarketOpen)))
		require.NoError(t, r.Dispatch(ctx, marketSnap("1.2", togo, models.MarketOpen)))
	}
	require.NoError(t, r.Dispatch(ctx, marketSnap("1.1", 0, models.MarketClosed)))
	require.NoError(t, r.Dispatch(ctx, marketSnap("9.9", 0, models.MarketClosed)))

	require.NoError(t, r.Stop(ctx))
	assert.ErrorIs(t, r.Dispatch(ctx, marketSnap("1.1", 0, models.MarketOpen)), ErrRouterStopped)

	closed := store.Market("1.1")
	require.Len(t, closed, 2)
	assert.Len(t, closed[0].Features["ltp"], 31)
	assert.Equal(t, raceStart, closed[0].ClosedAt)

	flushed := store.Market("1.2")
	require.Len(t, flushed, 2, "open markets are finalized on stop")
	assert.Equal(t, raceStart.Add(-time.Second), flushed[0].ClosedAt)

	_, ok := r.Market("9.9")
	assert.False(t, ok, "a market first seen closed is never created")
	assert.Len(t, r.Markets(), 2)
	assert.Equal(t, 0, r.Active())
	assert.Equal(t, 0, metrics.active)
	assert.ElementsMatch(t, []string{"1.1", "1.2"}, f.keys)
	assert.Zero(t, metrics.errorCount("market_process"))
}

func TestRouterSweepsClosedMarkets(t *testing.T) {
	r, _, _, _ := routerFixture(1)
	now := raceStart
	r.now = func() time.Time { return now }
	ctx := context.Background()
	r.Start(ctx)

	require.NoError(t, r.Dispatch(ctx, marketSnap("1.1", 5, models.MarketOpen)))
	require.NoError(t, r.Dispatch(ctx, marketSnap("1.1", 0, models.MarketClosed)))
	require.NoError(t, r.Dispatch(ctx, marketSnap("1.2", 5, models.MarketOpen)))
	require.NoError(t, r.Stop(ctx))

	assert.Equal(t, 0, r.Sweep(), "retention not elapsed")
	now = now.Add(time.Minute)
	assert.Equal(t, 2, r.Sweep())
	assert.Empty(t, r.Markets())
}

func TestShardOfIsStable(t *testing.T) {
	for _, id := range []string{"1.1", "1.2", "1.234567"} {
		s := shardOf(id, 8)
		assert.Equal(t, s, shardOf(id, 8))
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
	}
}

func TestStatusBook(t *testing.T) {
	b := NewStatusBook()
	t0 := raceStart

	assert.True(t, b.Put(models.OrderUpdate{OrderID: "a", MarketID: "1.1", Status: models.OrderExecutable, Timestamp: t0}))
	assert.False(t, b.Put(models.OrderUpdate{OrderID: "a", Status: models.OrderPending, Timestamp: t0.Add(-time.Second)}))
	assert.True(t, b.Put(models.OrderUpdate{OrderID: "a", SizeMatched: 2, Status: models.OrderExecutionComplete, Timestamp: t0.Add(time.Second)}))
	assert.False(t, b.Put(models.OrderUpdate{OrderID: "a", Status: models.OrderCancelled, Timestamp: t0.Add(2 * time.Second)}))
	assert.True(t, b.Put(models.OrderUpdate{OrderID: "b", MarketID: "1.2", Status: models.OrderExecutable, Timestamp: t0}))

	u, ok := b.Latest("a")
	require.True(t, ok)
	assert.Equal(t, models.OrderExecutionComplete, u.Status)
	assert.Equal(t, "1.1", u.MarketID)

	b.Forget("1.1")
	_, ok = b.Latest("a")
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())
}

func TestKafkaOrderUpdateHandler(t *testing.T) {
	b := NewStatusBook()
	m := newSafeMetrics()
	h := NewKafkaOrderUpdateHandler("updates", b, m)
	ctx := context.Background()

	assert.Equal(t, "updates", h.Topic())
	require.NoError(t, h.Handle(ctx, []byte(`{"order_id":"a","size_matched":1.5,"status":"EXECUTABLE","timestamp":"2024-06-01T14:59:00Z"}`)))
	require.NoError(t, h.Handle(ctx, []byte(`[{"order_id":"b","status":"CANCELLED"},{"order_id":"c","status":"EXECUTION_COMPLETE"}]`)))
	assert.Equal(t, 3, b.Len())

	u, _ := b.Latest("a")
	assert.Equal(t, 1.5, u.SizeMatched)

	assert.Error(t, h.Handle(ctx, []byte(`{`)))
	assert.Error(t, h.Handle(ctx, []byte(`{"status":"EXECUTABLE"}`)))
	assert.Equal(t, 1, m.errorCount("order_update_unmarshal"))
	assert.Equal(t, 1, m.errorCount("order_update_invalid"))
}

type captureSink struct {
	got []*models.Snapshot
	err error
}

func (c *captureSink) Process(_ context.Context, s *models.Snapshot) error {
	c.got = append(c.got, s)
	return c.err
}

func TestKafkaSnapshotHandler(t *testing.T) {
	m := newSafeMetrics()
	sink := &captureSink{}
	h := NewKafkaSnapshotHandler("snaps", sink, m)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"market_id":"1.1","timestamp":"2024-06-01T14:50:00Z","market_start_time":"2024-06-01T15:00:00Z","status":"OPEN"}`)))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "1.1", sink.got[0].MarketID)

	assert.NoError(t, h.Handle(ctx, []byte(`garbage`)), "poison messages are skipped")
	assert.Equal(t, 1, m.errorCount("snapshot_unmarshal"))

	sink.err = middleware.ErrOutOfOrder
	assert.NoError(t, h.Handle(ctx, []byte(`{"market_id":"1.1"}`)))

	sink.err = errors.New("router busy")
	assert.Error(t, h.Handle(ctx, []byte(`{"market_id":"1.1"}`)))
}

type fakeStream struct {
	mu         sync.Mutex
	reads      int
	reconnects int
	closed     bool
	batches    [][]*models.Snapshot
}

func (s *fakeStream) Connect(context.Context) error   { return nil }
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) IsConnected() bool               { return true }

func (s *fakeStream) Read(ctx context.Context) (<-chan *models.Snapshot, <-chan error) {
	s.mu.Lock()
	i := s.reads
	s.reads++
	s.mu.Unlock()

	out := make(chan *models.Snapshot, 8)
	errs := make(chan error, 1)
	if i < len(s.batches) {
		for _, snap := range s.batches[i] {
			out <- snap
		}
		errs <- errors.New("connection reset")
		close(out)
		close(errs)
		return out, errs
	}
	go func() {
		<-ctx.Done()
		close(out)
		close(errs)
	}()
	return out, errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type lockedSink struct {
	mu  sync.Mutex
	ids []string
}

func (l *lockedSink) Process(_ context.Context, s *models.Snapshot) error {
	l.mu.Lock()
	l.ids = append(l.ids, s.MarketID)
	l.mu.Unlock()
	return nil
}

func (l *lockedSink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func TestSnapshotCollectorReconnects(t *testing.T) {
	stream := &fakeStream{batches: [][]*models.Snapshot{
		{marketSnap("1.1", 3, models.MarketOpen)},
		{marketSnap("1.1", 2, models.MarketOpen), marketSnap("1.2", 2, models.MarketOpen)},
	}}
	sink := &lockedSink{}
	m := newSafeMetrics()
	c := NewSnapshotCollector(stream, sink, m, nil)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.reads == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, stream.closed)
	assert.Equal(t, 2, stream.reconnects)
	assert.Equal(t, 2, m.errorCount("stream"))
}

func TestReadSnapshotsSortsAndSkipsBlankLines(t *testing.T) {
	var b strings.Builder
	for _, togo := range []int{10, 30, 20} {
		line, err := json.Marshal(marketSnap("1.1", togo, models.MarketOpen))
		require.NoError(t, err)
		b.Write(line)
		b.WriteString("\n\n")
	}
	snaps, err := ReadSnapshots(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, raceStart.Add(-30*time.Second), snaps[0].Timestamp)
	assert.Equal(t, raceStart.Add(-10*time.Second), snaps[2].Timestamp)

	_, err = ReadSnapshots(strings.NewReader("{\"market_id\":\"1.1\"}\nnot json\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestReplayMarketClosesAtEndOfData(t *testing.T) {
	var snaps []*models.Snapshot
	for togo := 20; togo > 0; togo-- {
		snaps = append(snaps, marketSnap("1.1", togo, models.MarketOpen), marketSnap("1.2", togo, models.MarketOpen))
	}
	snaps = FilterMarket(snaps, "1.1")
	require.Len(t, snaps, 20)

	store := repository.NewMemoryResultStore()
	cfg := market.Config{
		Gates:    gate.Offsets{FeatureStart: time.Hour, TradeAllowed: time.Minute, Cutoff: 10 * time.Second},
		Features: feature.Config{"ltp": {Class: feature.ClassLTP}},
	}
	h, err := ReplayMarket(context.Background(), snaps, cfg, market.Deps{Results: store})
	require.NoError(t, err)
	assert.True(t, h.Closed())

	results := store.Market("1.1")
	require.Len(t, results, 2)
	assert.Len(t, results[0].Features["ltp"], 20)
	assert.Equal(t, raceStart.Add(-time.Second), results[0].ClosedAt)

	_, err = ReplayMarket(context.Background(), nil, cfg, market.Deps{})
	assert.ErrorIs(t, err, ErrNoSnapshots)
}
