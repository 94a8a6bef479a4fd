package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BetPull/internal/domain/models"
)

// fakeExchange is an OrderExecutor and OrderFeedback that records calls.
type fakeExchange struct {
	intents []models.OrderIntent
	cancels []string
	updates map[string]models.OrderUpdate
	err     error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{updates: make(map[string]models.OrderUpdate)}
}

func (f *fakeExchange) Submit(_ context.Context, in models.OrderIntent) error {
	if f.err != nil {
		return f.err
	}
	f.intents = append(f.intents, in)
	f.updates[in.OrderID] = models.OrderUpdate{OrderID: in.OrderID, Status: models.OrderExecutable}
	return nil
}

func (f *fakeExchange) Cancel(_ context.Context, _, orderID string) error {
	f.cancels = append(f.cancels, orderID)
	u := f.updates[orderID]
	u.Status = models.OrderCancelled
	f.updates[orderID] = u
	return nil
}

func (f *fakeExchange) Latest(orderID string) (models.OrderUpdate, bool) {
	u, ok := f.updates[orderID]
	return u, ok
}

func (f *fakeExchange) fill(orderID string, price float64) {
	var size float64
	for _, in := range f.intents {
		if in.OrderID == orderID {
			size = in.Size
		}
	}
	f.updates[orderID] = models.OrderUpdate{
		OrderID:             orderID,
		SizeMatched:         size,
		AveragePriceMatched: price,
		Status:              models.OrderExecutionComplete,
	}
}

func (f *fakeExchange) last() models.OrderIntent { return f.intents[len(f.intents)-1] }

type features map[string]float64

func (f features) Float(id string) (float64, bool) {
	v, ok := f[id]
	return v, ok
}

type transitionLog struct{ states []string }

func (m *transitionLog) RecordSnapshot(string)          {}
func (m *transitionLog) RecordError(string)             {}
func (m *transitionLog) RecordLatency(string, float64)  {}
func (m *transitionLog) RecordOrder(string, string)     {}
func (m *transitionLog) RecordMarketEvent(string)       {}
func (m *transitionLog) RecordStateTransition(s string) { m.states = append(m.states, s) }
func (m *transitionLog) SetActiveMarkets(int)           {}

var t0 = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func inputs(at time.Duration, back, lay float64, f features) *Inputs {
	r := models.RunnerSnapshot{SelectionID: 7}
	if back > 0 {
		r.Back = []models.PriceSize{{Price: back, Size: 100}}
	}
	if lay > 0 {
		r.Lay = []models.PriceSize{{Price: lay, Size: 100}}
	}
	snap := &models.Snapshot{
		MarketID:        "1.234",
		Timestamp:       t0.Add(at),
		MarketStartTime: t0.Add(10 * time.Minute),
		Runners:         []models.RunnerSnapshot{r},
	}
	return &Inputs{Snapshot: snap, Runner: &snap.Runners[0], Features: f, TradeAllowed: true}
}

func newTestTrader(t *testing.T, ex *fakeExchange, metrics *transitionLog) *Trader {
	t.Helper()
	s, err := FromConfig(StrategyConfig{Type: StrategyThreshold, FeatureID: "signal", Threshold: 0.5, Stake: 10})
	require.NoError(t, err)
	tr := NewTrader("1.234", 7, Config{}, s, ex, ex, nil, nil)
	if metrics != nil {
		tr.metrics = metrics
	}
	return tr
}

func TestTraderFullCycle(t *testing.T) {
	ex := newFakeExchange()
	log := &transitionLog{}
	tr := newTestTrader(t, ex, log)
	ctx := context.Background()
	hot := features{"signal": 0.6}

	require.NoError(t, tr.Run(ctx, inputs(0, 2.0, 2.02, features{"signal": 0.4})))
	assert.Equal(t, StateIdle, tr.State())

	require.NoError(t, tr.Run(ctx, inputs(time.Second, 2.0, 2.02, hot)))
	assert.Equal(t, StateOpenMatching, tr.State())
	require.Len(t, ex.intents, 1)
	open := ex.last()
	assert.Equal(t, models.SideBack, open.Side)
	assert.Equal(t, 2.0, open.Price)
	assert.Equal(t, 10.0, open.Size)
	assert.Equal(t, tr.Trade().ID, open.TradeID)

	ex.fill(open.OrderID, 2.0)
	assert.Equal(t, 1, tr.UpdateOrders())

	require.NoError(t, tr.Run(ctx, inputs(2*time.Second, 2.0, 2.02, hot)))
	assert.Equal(t, StateHedgeSelect, tr.State())

	// hold time not reached yet
	require.NoError(t, tr.Run(ctx, inputs(20*time.Second, 1.78, 1.8, hot)))
	assert.Equal(t, StateHedgeSelect, tr.State())

	require.NoError(t, tr.Run(ctx, inputs(33*time.Second, 1.78, 1.8, hot)))
	assert.Equal(t, StateHedgeTakeMatching, tr.State())
	require.Len(t, ex.intents, 2)
	hedge := ex.last()
	assert.Equal(t, models.SideLay, hedge.Side)
	assert.Equal(t, 1.8, hedge.Price)
	assert.InDelta(t, 11.11, hedge.Size, 1e-9)

	ex.fill(hedge.OrderID, 1.8)
	tr.UpdateOrders()
	require.NoError(t, tr.Run(ctx, inputs(34*time.Second, 1.78, 1.8, hot)))
	assert.Equal(t, StateCleaning, tr.State())
	assert.Empty(t, tr.Pending())

	orders := tr.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderExecutionComplete, orders[0].Status)
	assert.Equal(t, models.OrderExecutionComplete, orders[1].Status)

	tr.Reset()
	assert.Equal(t, StateIdle, tr.State())
	assert.Nil(t, tr.Trade())

	for _, s := range log.states {
		assert.True(t, State(s).Valid(), s)
	}
}

func TestTraderOpenTimeoutWithoutMatch(t *testing.T) {
	ex := newFakeExchange()
	tr := newTestTrader(t, ex, nil)
	ctx := context.Background()
	hot := features{"signal": 0.9}

	require.NoError(t, tr.Run(ctx, inputs(0, 3.0, 3.05, hot)))
	assert.Equal(t, StateOpenMatching, tr.State())
	tr.UpdateOrders()

	require.NoError(t, tr.Run(ctx, inputs(11*time.Second, 3.0, 3.05, hot)))
	assert.Equal(t, StatePending, tr.State())
	assert.Equal(t, []string{ex.intents[0].OrderID}, ex.cancels)

	tr.UpdateOrders()
	require.NoError(t, tr.Run(ctx, inputs(12*time.Second, 3.0, 3.05, hot)))
	assert.Equal(t, StateCleaning, tr.State())
	assert.Len(t, ex.intents, 1)

	rec, ok := tr.Tracker().Get(ex.intents[0].OrderID)
	require.True(t, ok)
	assert.Equal(t, models.OrderCancelled, rec.Status)
	assert.True(t, rec.CancelRequested)
}

func TestTraderHoldsWithoutHedgePrice(t *testing.T) {
	ex := newFakeExchange()
	tr := newTestTrader(t, ex, nil)
	ctx := context.Background()
	hot := features{"signal": 0.9}

	require.NoError(t, tr.Run(ctx, inputs(0, 4.0, 4.1, hot)))
	ex.fill(ex.last().OrderID, 4.0)
	tr.UpdateOrders()
	require.NoError(t, tr.Run(ctx, inputs(time.Second, 4.0, 4.1, hot)))
	require.Equal(t, StateHedgeSelect, tr.State())

	require.NoError(t, tr.Run(ctx, inputs(31*time.Second, 4.0, 0, hot)))
	assert.Equal(t, StateHedgeTakePlace, tr.State())
	assert.Len(t, ex.intents, 1)

	require.NoError(t, tr.Run(ctx, inputs(32*time.Second, 4.0, 4.0, hot)))
	assert.Equal(t, StateHedgeTakeMatching, tr.State())
	require.Len(t, ex.intents, 2)
	assert.InDelta(t, 10.0, ex.last().Size, 1e-9)
}

func TestTraderForceCutoff(t *testing.T) {
	ex := newFakeExchange()
	tr := newTestTrader(t, ex, nil)
	ctx := context.Background()
	hot := features{"signal": 0.9}

	require.NoError(t, tr.Run(ctx, inputs(0, 2.5, 2.52, hot)))
	ex.fill(ex.last().OrderID, 2.5)
	tr.UpdateOrders()
	require.NoError(t, tr.Run(ctx, inputs(time.Second, 2.5, 2.52, hot)))
	require.Equal(t, StateHedgeSelect, tr.State())

	require.NoError(t, tr.ForceCutoff())
	assert.Equal(t, StateBin, tr.State())
	assert.Equal(t, CutoffSequence[1:], tr.Pending())

	in := inputs(2*time.Second, 2.5, 2.5, hot)
	in.Cutoff = true
	require.NoError(t, tr.Run(ctx, in))
	assert.Equal(t, StateHedgeTakeMatching, tr.State())
	assert.Empty(t, ex.cancels)
	assert.Equal(t, models.SideLay, ex.last().Side)
}

func TestTraderIdleRespectsGates(t *testing.T) {
	ex := newFakeExchange()
	tr := newTestTrader(t, ex, nil)
	ctx := context.Background()

	in := inputs(0, 2.0, 2.02, features{"signal": 0.9})
	in.TradeAllowed = false
	require.NoError(t, tr.Run(ctx, in))
	assert.Equal(t, StateIdle, tr.State())

	in = inputs(time.Second, 2.0, 2.02, features{"signal": 0.9})
	in.Cutoff = true
	require.NoError(t, tr.Run(ctx, in))
	assert.Equal(t, StateIdle, tr.State())
	assert.Empty(t, ex.intents)
}

func TestTraderAbandonsWhenSubmitKeepsFailing(t *testing.T) {
	ex := newFakeExchange()
	ex.err = errors.New("exchange down")
	tr := newTestTrader(t, ex, nil)
	ctx := context.Background()
	hot := features{"signal": 0.9}

	require.NoError(t, tr.Run(ctx, inputs(0, 2.0, 2.02, hot)))
	assert.Equal(t, StateOpenPlacing, tr.State())

	require.NoError(t, tr.Run(ctx, inputs(10*time.Second, 2.0, 2.02, hot)))
	assert.Equal(t, StateCleaning, tr.State())
	assert.Empty(t, tr.Orders())
}

func TestStrategyFromConfig(t *testing.T) {
	_, err := FromConfig(StrategyConfig{Type: "martingale", FeatureID: "x", Stake: 1})
	assert.ErrorIs(t, err, ErrUnknownStrategyType)

	_, err = FromConfig(StrategyConfig{Stake: 1})
	assert.ErrorIs(t, err, ErrMissingFeature)

	_, err = FromConfig(StrategyConfig{FeatureID: "x"})
	assert.ErrorIs(t, err, ErrBadStake)

	_, err = FromConfig(StrategyConfig{FeatureID: "x", Stake: 1, Operator: "eq"})
	assert.ErrorIs(t, err, ErrBadOperator)

	s, err := FromConfig(StrategyConfig{FeatureID: "x", Stake: 2, Operator: "lt", Threshold: 1, ExitOnRevert: true, Side: models.SideLay})
	require.NoError(t, err)
	in := inputs(0, 2, 2.02, features{"x": 0.5})
	sig, ok := s.Entry(in)
	assert.True(t, ok)
	assert.Equal(t, Signal{Side: models.SideLay, Stake: 2}, sig)
	assert.False(t, s.Exit(in, nil))

	in = inputs(0, 2, 2.02, features{"x": 1.5})
	assert.True(t, s.Exit(in, nil))
	_, ok = s.Entry(inputs(0, 2, 2.02, features{}))
	assert.False(t, ok)
}

func TestHedgeSizeRoundsHalfPennyUp(t *testing.T) {
	tr := newTestTrader(t, newFakeExchange(), nil)
	matched := func(id string, size, price float64) {
		tr.orders.Add(models.OrderIntent{OrderID: id, Size: size, Price: price, Placed: t0})
		require.True(t, tr.orders.Apply(models.OrderUpdate{
			OrderID:             id,
			SizeMatched:         size,
			AveragePriceMatched: price,
			Status:              models.OrderExecutionComplete,
		}))
	}

	matched("open", 2.01, 2.0)
	tr.trade = &Trade{Side: models.SideBack, OpenOrders: []string{"open"}}
	// 4.02 / 4 is 1.005 exactly; float64 arithmetic lands just below and would round to 1.00.
	assert.Equal(t, 1.01, tr.hedgeSize(4.0))

	matched("open2", 10, 3.0)
	matched("hedge", 5, 4.0)
	tr.trade = &Trade{Side: models.SideBack, OpenOrders: []string{"open2"}, HedgeOrders: []string{"hedge"}}
	assert.Equal(t, 3.33, tr.hedgeSize(3.0))
}
