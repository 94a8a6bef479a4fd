package trade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	applogger "BetPull/pkg/logger"
)

// Config holds the timing and sizing rules of a trade cycle.
type Config struct {
	Hold           time.Duration
	OpenTimeout    time.Duration
	HedgeTimeout   time.Duration
	PendingTimeout time.Duration
	MinHedgeSize   float64
}

func (c Config) withDefaults() Config {
	if c.Hold <= 0 {
		c.Hold = 30 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.HedgeTimeout <= 0 {
		c.HedgeTimeout = 5 * time.Second
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 10 * time.Second
	}
	if c.MinHedgeSize <= 0 {
		c.MinHedgeSize = 0.01
	}
	return c
}

// Trade is the in-flight position of a runner.
type Trade struct {
	ID          string
	Side        models.Side
	Stake       float64
	Opened      time.Time
	OpenOrders  []string
	HedgeOrders []string
}

func (t *Trade) orders() []string {
	return append(append([]string(nil), t.OpenOrders...), t.HedgeOrders...)
}

// Trader drives one runner's trade machine.
type Trader struct {
	MarketID    string
	SelectionID int64

	cfg      Config
	strategy Strategy
	exec     domrepo.OrderExecutor
	orders   *OrderTracker
	machine  *Machine
	log      *applogger.Logger
	metrics  domrepo.Metrics

	ctx   context.Context
	in    *Inputs
	trade *Trade
	since time.Time
}

// NewTrader wires a machine with the standard trade-cycle handlers.
func NewTrader(marketID string, selectionID int64, cfg Config, s Strategy, exec domrepo.OrderExecutor, fb domrepo.OrderFeedback, log *applogger.Logger, metrics domrepo.Metrics) *Trader {
	if log == nil {
		log = applogger.Nop()
	}
	t := &Trader{
		MarketID:    marketID,
		SelectionID: selectionID,
		cfg:         cfg.withDefaults(),
		strategy:    s,
		exec:        exec,
		orders:      NewOrderTracker(fb),
		machine:     NewMachine(),
		log:         log,
		metrics:     metrics,
		ctx:         context.Background(),
	}
	t.machine.OnTransition = t.onTransition
	t.machine.Handle(StateIdle, t.idle)
	t.machine.Handle(StateOpenPlacing, t.openPlacing)
	t.machine.Handle(StateOpenMatching, t.openMatching)
	t.machine.Handle(StateBin, t.bin)
	t.machine.Handle(StatePending, t.pending)
	t.machine.Handle(StateHedgeSelect, t.hedgeSelect)
	t.machine.Handle(StateHedgeTakePlace, t.hedgeTakePlace)
	t.machine.Handle(StateHedgeTakeMatching, t.hedgeTakeMatching)
	t.machine.Handle(StateCleaning, t.cleaning)
	return t
}

// Run executes the machine for one tick.
func (t *Trader) Run(ctx context.Context, in *Inputs) error {
	t.ctx = ctx
	t.in = in
	if t.since.IsZero() {
		t.since = in.Now()
	}
	return t.machine.Run()
}

// ForceCutoff replaces pending transitions with the cutoff hedge-out sequence.
func (t *Trader) ForceCutoff() error {
	t.log.Info("cutoff reached, forcing hedge",
		applogger.MarketID(t.MarketID),
		applogger.SelectionID(t.SelectionID),
		applogger.String("state", string(t.machine.State())))
	return t.machine.ForceChange(CutoffSequence...)
}

// Reset returns to IDLE and drops the active trade.
func (t *Trader) Reset() {
	t.machine.Reset()
	t.trade = nil
}

// UpdateOrders folds execution feedback into the order log.
func (t *Trader) UpdateOrders() int { return t.orders.Update() }

func (t *Trader) State() State                 { return t.machine.State() }
func (t *Trader) Pending() []State             { return t.machine.Pending() }
func (t *Trader) Trade() *Trade                { return t.trade }
func (t *Trader) Orders() []models.OrderRecord { return t.orders.Log() }
func (t *Trader) Tracker() *OrderTracker       { return t.orders }
func (t *Trader) Machine() *Machine            { return t.machine }

func (t *Trader) onTransition(from, to State) {
	if t.in != nil {
		t.since = t.in.Now()
	}
	if t.metrics != nil {
		t.metrics.RecordStateTransition(string(to))
	}
	t.log.Debug("trade state",
		applogger.MarketID(t.MarketID),
		applogger.SelectionID(t.SelectionID),
		applogger.String("from", string(from)),
		applogger.String("to", string(to)))
}

func (t *Trader) elapsed() time.Duration { return t.in.Now().Sub(t.since) }

func (t *Trader) price(side models.Side) (float64, bool) {
	var ps models.PriceSize
	var ok bool
	if side == models.SideBack {
		ps, ok = t.in.Runner.BestBack(0)
	} else {
		ps, ok = t.in.Runner.BestLay(0)
	}
	return ps.Price, ok && ps.Price > 0
}

func (t *Trader) submit(side models.Side, price, size float64) (string, error) {
	intent := models.OrderIntent{
		OrderID:     uuid.NewString(),
		TradeID:     t.trade.ID,
		MarketID:    t.MarketID,
		SelectionID: t.SelectionID,
		Side:        side,
		Price:       price,
		Size:        size,
		Placed:      t.in.Now(),
	}
	if err := t.exec.Submit(t.ctx, intent); err != nil {
		return "", err
	}
	t.orders.Add(intent)
	if t.metrics != nil {
		t.metrics.RecordOrder(string(side), "submit")
	}
	return intent.OrderID, nil
}

func (t *Trader) cancel(ids []string) {
	for _, id := range ids {
		if err := t.exec.Cancel(t.ctx, t.MarketID, id); err != nil {
			t.log.Warn("cancel order failed",
				applogger.MarketID(t.MarketID),
				applogger.String("order_id", id),
				applogger.Error(err))
			continue
		}
		t.orders.MarkCancelRequested(id)
		if t.metrics != nil {
			t.metrics.RecordOrder("", "cancel")
		}
	}
}

// unmatched returns orders that can still match and have size left.
func (t *Trader) unmatched(ids []string) []string {
	var out []string
	for _, id := range t.orders.Live(ids) {
		if r, _ := t.orders.Get(id); r.Remaining() > 0 {
			out = append(out, id)
		}
	}
	return out
}

// abandon ends the cycle without a position.
func (t *Trader) abandon() Result {
	t.machine.Flush()
	return Goto(StateCleaning)
}

func (t *Trader) idle(bool) (Result, error) {
	if !t.in.TradeAllowed || t.in.Cutoff || t.strategy == nil {
		return Hold(), nil
	}
	sig, ok := t.strategy.Entry(t.in)
	if !ok {
		return Hold(), nil
	}
	t.trade = &Trade{ID: uuid.NewString(), Side: sig.Side, Stake: sig.Stake, Opened: t.in.Now()}
	t.log.Info("trade opened",
		applogger.MarketID(t.MarketID),
		applogger.SelectionID(t.SelectionID),
		applogger.TradeID(t.trade.ID),
		applogger.String("side", string(sig.Side)),
		applogger.Float64("stake", sig.Stake))
	return Goto(StateOpenPlacing, StateOpenMatching, StateHedgeSelect, StateHedgeTakePlace, StateHedgeTakeMatching, StateCleaning), nil
}

func (t *Trader) openPlacing(bool) (Result, error) {
	price, ok := t.price(t.trade.Side)
	if !ok {
		if t.elapsed() >= t.cfg.OpenTimeout {
			t.log.Warn("no price to open, abandoning trade",
				applogger.MarketID(t.MarketID),
				applogger.SelectionID(t.SelectionID))
			return t.abandon(), nil
		}
		return Hold(), nil
	}
	id, err := t.submit(t.trade.Side, price, t.trade.Stake)
	if err != nil {
		t.log.Warn("open order not submitted",
			applogger.MarketID(t.MarketID),
			applogger.SelectionID(t.SelectionID),
			applogger.Error(err))
		if t.elapsed() >= t.cfg.OpenTimeout {
			return t.abandon(), nil
		}
		return Hold(), nil
	}
	t.trade.OpenOrders = append(t.trade.OpenOrders, id)
	return Done(), nil
}

func (t *Trader) openMatching(bool) (Result, error) {
	if len(t.unmatched(t.trade.OpenOrders)) == 0 {
		return Done(), nil
	}
	if t.elapsed() >= t.cfg.OpenTimeout {
		return Goto(StateBin, StatePending), nil
	}
	return Hold(), nil
}

func (t *Trader) bin(bool) (Result, error) {
	if t.trade != nil {
		t.cancel(t.unmatched(t.trade.orders()))
	}
	return Done(), nil
}

func (t *Trader) pending(bool) (Result, error) {
	if t.trade == nil || len(t.unmatched(t.trade.orders())) == 0 {
		return Done(), nil
	}
	if t.elapsed() >= t.cfg.PendingTimeout {
		t.log.Warn("orders still live after cancel",
			applogger.MarketID(t.MarketID),
			applogger.SelectionID(t.SelectionID),
			applogger.Strings("order_ids", t.orders.Live(t.trade.orders())))
		return Done(), nil
	}
	return Hold(), nil
}

func (t *Trader) hedgeSelect(bool) (Result, error) {
	if t.trade == nil {
		return t.abandon(), nil
	}
	size, _ := t.orders.Exposure(t.trade.OpenOrders)
	if size == 0 {
		return t.abandon(), nil
	}
	if t.in.Cutoff || t.elapsed() >= t.cfg.Hold {
		return Done(), nil
	}
	if t.strategy != nil && t.strategy.Exit(t.in, t.trade) {
		return Done(), nil
	}
	return Hold(), nil
}

// hedgeSize is the stake on the opposite side at price that equalises profit across outcomes,
// net of hedges already matched.
// The division and penny rounding run in decimal; half a penny rounds up.
func (t *Trader) hedgeSize(price float64) float64 {
	net := t.notional(t.trade.OpenOrders).Sub(t.notional(t.trade.HedgeOrders))
	size, _ := net.Div(decimal.NewFromFloat(price)).Round(2).Float64()
	return size
}

func (t *Trader) notional(ids []string) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range ids {
		if r, ok := t.orders.Get(id); ok {
			sum = sum.Add(decimal.NewFromFloat(r.SizeMatched).Mul(decimal.NewFromFloat(r.AveragePriceMatched)))
		}
	}
	return sum
}

func (t *Trader) hedgeTakePlace(bool) (Result, error) {
	if t.trade == nil {
		return t.abandon(), nil
	}
	side := t.trade.Side.Opposite()
	price, ok := t.price(side)
	if !ok {
		t.log.Warn("no price to hedge, holding",
			applogger.MarketID(t.MarketID),
			applogger.SelectionID(t.SelectionID),
			applogger.String("side", string(side)))
		return Hold(), nil
	}
	size := t.hedgeSize(price)
	if size < t.cfg.MinHedgeSize {
		return Done(), nil
	}
	id, err := t.submit(side, price, size)
	if err != nil {
		t.log.Warn("hedge order not submitted",
			applogger.MarketID(t.MarketID),
			applogger.SelectionID(t.SelectionID),
			applogger.Error(err))
		return Hold(), nil
	}
	t.trade.HedgeOrders = append(t.trade.HedgeOrders, id)
	return Done(), nil
}

func (t *Trader) hedgeTakeMatching(bool) (Result, error) {
	if t.trade == nil {
		return Done(), nil
	}
	live := t.unmatched(t.trade.HedgeOrders)
	if len(live) == 0 {
		return Done(), nil
	}
	if t.elapsed() >= t.cfg.HedgeTimeout {
		t.cancel(live)
		return Goto(StatePending, StateHedgeTakePlace, StateHedgeTakeMatching), nil
	}
	return Hold(), nil
}

func (t *Trader) cleaning(bool) (Result, error) {
	return Hold(), nil
}
