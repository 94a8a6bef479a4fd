package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BetPull/internal/domain/models"
	"BetPull/internal/feature"
	"BetPull/internal/gate"
	"BetPull/internal/trade"
)

// instantExchange matches every order in full at its limit price.
type instantExchange struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	updates map[string]models.OrderUpdate
}

func newInstantExchange() *instantExchange {
	return &instantExchange{updates: make(map[string]models.OrderUpdate)}
}

func (e *instantExchange) Submit(_ context.Context, in models.OrderIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, in)
	e.updates[in.OrderID] = models.OrderUpdate{
		OrderID:             in.OrderID,
		SizeMatched:         in.Size,
		AveragePriceMatched: in.Price,
		Status:              models.OrderExecutionComplete,
	}
	return nil
}

func (e *instantExchange) Cancel(context.Context, string, string) error { return nil }

func (e *instantExchange) Latest(id string) (models.OrderUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.updates[id]
	return u, ok
}

// restingExchange leaves orders resting until fill is called.
type restingExchange struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	updates map[string]models.OrderUpdate
}

func newRestingExchange() *restingExchange {
	return &restingExchange{updates: make(map[string]models.OrderUpdate)}
}

func (e *restingExchange) Submit(_ context.Context, in models.OrderIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, in)
	e.updates[in.OrderID] = models.OrderUpdate{OrderID: in.OrderID, Status: models.OrderExecutable}
	return nil
}

func (e *restingExchange) Cancel(context.Context, string, string) error { return nil }

func (e *restingExchange) Latest(id string) (models.OrderUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.updates[id]
	return u, ok
}

func (e *restingExchange) fill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range e.intents {
		e.updates[in.OrderID] = models.OrderUpdate{
			OrderID:             in.OrderID,
			SizeMatched:         in.Size,
			AveragePriceMatched: in.Price,
			Status:              models.OrderExecutionComplete,
		}
	}
}

type countingMetrics struct {
	events map[string]int
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: make(map[string]int), errors: make(map[string]int)}
}

func (m *countingMetrics) RecordSnapshot(string)         {}
func (m *countingMetrics) RecordError(k string)          { m.errors[k]++ }
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordOrder(string, string)    {}
func (m *countingMetrics) RecordMarketEvent(e string)    { m.events[e]++ }
func (m *countingMetrics) RecordStateTransition(string)  {}
func (m *countingMetrics) SetActiveMarkets(int)          {}

type memResults struct {
	saved []*models.RunnerResult
	err   error
}

func (s *memResults) Init(context.Context) error   { return nil }
func (s *memResults) Health(context.Context) error { return nil }
func (s *memResults) Close() error                 { return nil }
func (s *memResults) SaveRunner(_ context.Context, r *models.RunnerResult) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, r)
	return nil
}

type memOrders struct {
	saved map[int64][]models.OrderRecord
}

func (s *memOrders) SaveOrders(_ context.Context, _ string, sel int64, orders []models.OrderRecord) error {
	if s.saved == nil {
		s.saved = make(map[int64][]models.OrderRecord)
	}
	s.saved[sel] = orders
	return nil
}

func (s *memOrders) LoadOrders(_ context.Context, _ string, sel int64) ([]models.OrderRecord, error) {
	return s.saved[sel], nil
}

func (s *memOrders) LoadMarket(context.Context, string) (map[int64][]models.OrderRecord, error) {
	return s.saved, nil
}

var start = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func snapshotAt(secondsToGo int, status models.MarketStatus, ids ...int64) *models.Snapshot {
	s := &models.Snapshot{
		MarketID:        "1.100",
		Timestamp:       start.Add(-time.Duration(secondsToGo) * time.Second),
		MarketStartTime: start,
		Status:          status,
	}
	for _, id := range ids {
		s.Runners = append(s.Runners, models.RunnerSnapshot{
			SelectionID:     id,
			Back:            []models.PriceSize{{Price: 2.0, Size: 50}},
			Lay:             []models.PriceSize{{Price: 2.02, Size: 50}},
			LastTradedPrice: 2.0,
			TradedVolume:    []models.PriceSize{{Price: 2.0, Size: float64(200 - secondsToGo)}},
			TotalMatched:    float64(200 - secondsToGo),
		})
	}
	return s
}

func testConfig() Config {
	return Config{
		Gates: gate.Offsets{FeatureStart: 180 * time.Second, TradeAllowed: 60 * time.Second, Cutoff: 10 * time.Second},
		Features: feature.Config{
			"ltp": {Class: feature.ClassLTP},
			"vol": {Class: feature.ClassTradedVolume, Kwargs: map[string]any{"window_seconds": 30.0}},
		},
		Trade:    trade.Config{Hold: 5 * time.Minute},
		Strategy: &trade.StrategyConfig{Type: trade.StrategyThreshold, FeatureID: "ltp", Operator: "gt", Threshold: 1.5, Stake: 5},
	}
}

func TestGateTimingAndForcedCutoffOnce(t *testing.T) {
	ex := newInstantExchange()
	metrics := newCountingMetrics()
	deps := Deps{Executor: ex, Feedback: ex, Metrics: metrics}
	ctx := context.Background()

	h, err := NewHandler(snapshotAt(120, models.MarketOpen, 11), testConfig(), deps)
	require.NoError(t, err)

	var tradeRise, forcedAt []int
	for togo := 120; togo >= 0; togo-- {
		before := metrics.events["cutoff_forced"]
		require.NoError(t, h.Process(ctx, snapshotAt(togo, models.MarketOpen, 11)))
		if h.Gates().TradeAllowed.Rising() {
			tradeRise = append(tradeRise, togo)
		}
		if metrics.events["cutoff_forced"] > before {
			forcedAt = append(forcedAt, togo)
		}
	}

	assert.Equal(t, []int{60}, tradeRise)
	assert.Equal(t, []int{10}, forcedAt)

	r, ok := h.Runner(11)
	require.True(t, ok)
	assert.Equal(t, trade.StateIdle, r.Trader.State())
	orders := r.Trader.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.SideBack, orders[0].Intent.Side)
	assert.Equal(t, models.SideLay, orders[1].Intent.Side)
	assert.Equal(t, 1, metrics.events["init"])
}

func TestCutoffForcedWhenRunnerMissingAtCutoff(t *testing.T) {
	ex := newInstantExchange()
	metrics := newCountingMetrics()
	ctx := context.Background()
	h, err := NewHandler(snapshotAt(70, models.MarketOpen, 11), testConfig(),
		Deps{Executor: ex, Feedback: ex, Metrics: metrics})
	require.NoError(t, err)

	var forcedAt []int
	for togo := 70; togo >= 0; togo-- {
		snap := snapshotAt(togo, models.MarketOpen, 11)
		if togo == 10 {
			snap = snapshotAt(togo, models.MarketOpen, 12)
		}
		before := metrics.events["cutoff_forced"]
		require.NoError(t, h.Process(ctx, snap))
		if metrics.events["cutoff_forced"] > before {
			forcedAt = append(forcedAt, togo)
		}
		if togo == 10 {
			r, ok := h.Runner(11)
			require.True(t, ok)
			assert.False(t, r.Trader.State().Inactive())
			assert.NotEmpty(t, r.Trader.Pending())
		}
	}

	assert.Equal(t, []int{10}, forcedAt)
	assert.Equal(t, 1, metrics.events["cutoff_forced"])
	r, ok := h.Runner(11)
	require.True(t, ok)
	assert.Equal(t, trade.StateIdle, r.Trader.State())
	orders := r.Trader.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.SideLay, orders[1].Intent.Side)
	assert.Equal(t, start.Add(-9*time.Second), orders[1].Intent.Placed)
}

func TestFeaturesWaitForFeatureStart(t *testing.T) {
	h, err := NewHandler(snapshotAt(400, models.MarketOpen, 1, 2), testConfig(), Deps{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.Process(ctx, snapshotAt(400, models.MarketOpen, 1, 2)))
	_, ok := h.Runner(1)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Summary().History)

	require.NoError(t, h.Process(ctx, snapshotAt(180, models.MarketOpen, 1, 2)))
	require.NoError(t, h.Process(ctx, snapshotAt(179, models.MarketOpen, 1, 2, 3)))
	for _, id := range []int64{1, 2, 3} {
		_, ok := h.Runner(id)
		assert.True(t, ok, id)
	}
	s := h.Summary()
	assert.Equal(t, 2, s.History)
	require.Len(t, s.Runners, 3)
	assert.Equal(t, 2.0, s.Runners[0].Features["ltp"])
	assert.Equal(t, "IDLE", s.Runners[0].State)
}

func TestRunnerRestartsAfterCleaning(t *testing.T) {
	ex := newInstantExchange()
	cfg := testConfig()
	cfg.Trade.Hold = 2 * time.Second
	h, err := NewHandler(snapshotAt(60, models.MarketOpen, 5), cfg, Deps{Executor: ex, Feedback: ex})
	require.NoError(t, err)
	ctx := context.Background()

	seenCleaning := false
	for togo := 60; togo > 40; togo-- {
		require.NoError(t, h.Process(ctx, snapshotAt(togo, models.MarketOpen, 5)))
		r, _ := h.Runner(5)
		assert.NotEqual(t, trade.StateCleaning, r.Trader.State())
		if len(r.Trader.Orders()) >= 4 {
			seenCleaning = true
		}
	}
	assert.True(t, seenCleaning, "a second trade cycle should start on the same runner")
}

func TestCloseIsIdempotentAndPersists(t *testing.T) {
	ex := newInstantExchange()
	results := &memResults{}
	orders := &memOrders{}
	closes := 0
	h, err := NewHandler(snapshotAt(70, models.MarketOpen, 1, 2), testConfig(),
		Deps{Executor: ex, Feedback: ex, Results: results, Orders: orders},
		WithCloseHook(func(string) { closes++ }))
	require.NoError(t, err)
	ctx := context.Background()

	for togo := 70; togo >= 55; togo-- {
		require.NoError(t, h.Process(ctx, snapshotAt(togo, models.MarketOpen, 1, 2)))
	}
	require.NoError(t, h.Process(ctx, snapshotAt(54, models.MarketClosed, 1, 2)))
	assert.True(t, h.Closed())

	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Process(ctx, snapshotAt(53, models.MarketClosed, 1, 2)))
	assert.Equal(t, 1, closes)

	require.Len(t, results.saved, 2)
	got := results.saved[0]
	assert.Equal(t, "1.100", got.MarketID)
	assert.Equal(t, int64(1), got.SelectionID)
	assert.Len(t, got.Features["ltp"], 17)
	assert.Equal(t, start.Add(-54*time.Second), got.ClosedAt)
	assert.NotEmpty(t, got.Orders)
	assert.Equal(t, got.Orders, orders.saved[1])

	_, ok := h.Runner(1)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Summary().History)
}

func TestCloseRecordsFillsAfterLastSnapshot(t *testing.T) {
	ex := newRestingExchange()
	results := &memResults{}
	orders := &memOrders{}
	cfg := testConfig()
	cfg.Trade.OpenTimeout = time.Minute
	h, err := NewHandler(snapshotAt(70, models.MarketOpen, 1), cfg,
		Deps{Executor: ex, Feedback: ex, Results: results, Orders: orders})
	require.NoError(t, err)
	ctx := context.Background()

	for togo := 70; togo >= 56; togo-- {
		require.NoError(t, h.Process(ctx, snapshotAt(togo, models.MarketOpen, 1)))
	}
	r, ok := h.Runner(1)
	require.True(t, ok)
	before := r.Trader.Orders()
	require.Len(t, before, 1)
	assert.Equal(t, models.OrderExecutable, before[0].Status)

	ex.fill()
	require.NoError(t, h.Close(ctx))

	require.Len(t, results.saved, 1)
	got := results.saved[0].Orders
	require.Len(t, got, 1)
	assert.Equal(t, models.OrderExecutionComplete, got[0].Status)
	assert.Equal(t, got[0].Intent.Size, got[0].SizeMatched)
	assert.Equal(t, got, orders.saved[1])
}

func TestClosePersistFailureIsReported(t *testing.T) {
	metrics := newCountingMetrics()
	results := &memResults{err: errors.New("clickhouse unavailable")}
	h, err := NewHandler(snapshotAt(100, models.MarketOpen, 1), testConfig(), Deps{Results: results, Metrics: metrics})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.Process(ctx, snapshotAt(100, models.MarketOpen, 1)))
	err = h.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse unavailable")
	assert.Equal(t, 1, metrics.errors["persist"])
	assert.True(t, h.Closed())
}

func TestProcessRejectsOtherMarket(t *testing.T) {
	h, err := NewHandler(snapshotAt(100, models.MarketOpen, 1), testConfig(), Deps{})
	require.NoError(t, err)
	other := snapshotAt(99, models.MarketOpen, 1)
	other.MarketID = "1.999"
	assert.ErrorIs(t, h.Process(context.Background(), other), ErrMarketMismatch)
}

func TestNewHandlerRejectsBadStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = &trade.StrategyConfig{Type: "unknown"}
	_, err := NewHandler(snapshotAt(100, models.MarketOpen, 1), cfg, Deps{})
	assert.ErrorIs(t, err, trade.ErrUnknownStrategyType)
}
