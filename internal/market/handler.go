// Package market orchestrates one market: gates, shared windows, per-runner features and traders.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/feature"
	"BetPull/internal/gate"
	"BetPull/internal/trade"
	applogger "BetPull/pkg/logger"
)

var ErrMarketMismatch = errors.New("snapshot belongs to another market")

// Config is shared by every market handler of a process.
type Config struct {
	Gates    gate.Offsets
	Features feature.Config
	Registry *feature.Registry
	Trade    trade.Config
	// Strategy is nil when trading is disabled.
	Strategy       *trade.StrategyConfig
	PersistTimeout time.Duration
}

// Deps are the collaborators of a market handler. Any of them may be nil.
type Deps struct {
	Executor domrepo.OrderExecutor
	Feedback domrepo.OrderFeedback
	Results  domrepo.ResultStore
	Orders   domrepo.OrderLog
	Metrics  domrepo.Metrics
	Log      *applogger.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithInitHook runs fn once, when the handler is created from the market's first snapshot.
func WithInitHook(fn func(h *Handler, first *models.Snapshot)) Option {
	return func(h *Handler) { h.onInit = fn }
}

// WithCloseHook runs fn once, after the market has been finalized.
func WithCloseHook(fn func(marketID string)) Option {
	return func(h *Handler) { h.onClose = fn }
}

// Handler owns one market's state. Process and Close must be called from a single goroutine;
// Summary may be called concurrently.
type Handler struct {
	MarketID string

	cfg      Config
	deps     Deps
	log      *applogger.Logger
	strategy trade.Strategy

	mu      sync.RWMutex
	gates   *gate.Set
	env     *feature.Env
	history []*models.Snapshot
	runners map[int64]*Runner
	order   []int64
	last    *models.Snapshot
	closed  bool

	onInit  func(*Handler, *models.Snapshot)
	onClose func(string)
}

// NewHandler creates the handler for the market of first and runs the init hook.
func NewHandler(first *models.Snapshot, cfg Config, deps Deps, opts ...Option) (*Handler, error) {
	if first == nil || first.MarketID == "" {
		return nil, fmt.Errorf("new market handler: %w", ErrMarketMismatch)
	}
	if cfg.Registry == nil {
		cfg.Registry = feature.DefaultRegistry()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if deps.Log == nil {
		deps.Log = applogger.Nop()
	}
	h := &Handler{
		MarketID: first.MarketID,
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.With(applogger.MarketID(first.MarketID)),
		gates:    gate.NewSet(cfg.Gates),
		env:      feature.NewEnv(),
		runners:  make(map[int64]*Runner),
	}
	if cfg.Strategy != nil {
		s, err := trade.FromConfig(*cfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("market %s strategy: %w", first.MarketID, err)
		}
		h.strategy = s
	}
	for _, opt := range opts {
		opt(h)
	}

	h.log.Info("market initialized",
		applogger.Time("market_start", first.MarketStartTime),
		applogger.Float64("seconds_to_start", first.SecondsToStart()),
		applogger.Int("runners", len(first.Runners)))
	if deps.Metrics != nil {
		deps.Metrics.RecordMarketEvent("init")
	}
	if h.onInit != nil {
		h.onInit(h, first)
	}
	return h, nil
}

// Gates exposes the market's gate set.
func (h *Handler) Gates() *gate.Set { return h.gates }

// Runner returns the runner state of a selection.
func (h *Handler) Runner(selectionID int64) (*Runner, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.runners[selectionID]
	return r, ok
}

// Closed reports whether the market has been finalized.
func (h *Handler) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Process applies one snapshot. A CLOSED snapshot finalizes the market after it is applied.
func (h *Handler) Process(ctx context.Context, snap *models.Snapshot) error {
	if snap.MarketID != h.MarketID {
		return fmt.Errorf("%w: %s != %s", ErrMarketMismatch, snap.MarketID, h.MarketID)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.log.Debug("snapshot after close ignored", applogger.Time("timestamp", snap.Timestamp))
		return nil
	}
	err := h.apply(ctx, snap)
	h.mu.Unlock()

	if snap.IsClosed() {
		if cerr := h.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (h *Handler) apply(ctx context.Context, snap *models.Snapshot) error {
	h.gates.Observe(snap)
	h.last = snap
	if h.gates.TradeAllowed.Rising() {
		h.log.Info("trading allowed", applogger.Float64("seconds_to_start", snap.SecondsToStart()))
	}

	if !h.gates.FeatureStart.Current() {
		return nil
	}

	var errs []error
	for i := range snap.Runners {
		id := snap.Runners[i].SelectionID
		if _, ok := h.runners[id]; ok {
			continue
		}
		if err := h.addRunner(snap, id); err != nil {
			return err
		}
	}

	h.history = append(h.history, snap)
	if err := h.env.Windows.Update(h.history); err != nil {
		return fmt.Errorf("market %s windows: %w", h.MarketID, err)
	}
	for i := range snap.Runners {
		r := h.runners[snap.Runners[i].SelectionID]
		if err := r.Graph.Process(snap, i); err != nil {
			errs = append(errs, err)
			if h.deps.Metrics != nil {
				h.deps.Metrics.RecordError("feature_compute")
			}
		}
	}

	if h.gates.TradeAllowed.Current() {
		errs = append(errs, h.trade(ctx, snap))
	}
	return errors.Join(errs...)
}

func (h *Handler) addRunner(first *models.Snapshot, selectionID int64) error {
	g, err := feature.Generate(h.cfg.Features, h.cfg.Registry)
	if err != nil {
		return fmt.Errorf("market %s runner %d: %w", h.MarketID, selectionID, err)
	}
	if err := g.Init(h.env, first, selectionID); err != nil {
		return fmt.Errorf("market %s runner %d: %w", h.MarketID, selectionID, err)
	}
	tr := trade.NewTrader(h.MarketID, selectionID, h.cfg.Trade, h.strategy,
		h.deps.Executor, h.deps.Feedback, h.log, h.deps.Metrics)
	h.runners[selectionID] = &Runner{SelectionID: selectionID, Graph: g, Trader: tr}
	h.order = append(h.order, selectionID)
	h.log.Debug("runner added", applogger.SelectionID(selectionID))
	return nil
}

// trade runs every eligible runner's machine: before cutoff always, after cutoff only while mid-hedge.
func (h *Handler) trade(ctx context.Context, snap *models.Snapshot) error {
	cutoff := h.gates.Cutoff
	var errs []error
	for _, id := range h.order {
		r := h.runners[id]
		idx := snap.RunnerIndex(id)
		if idx < 0 {
			// Absent runners cannot trade, but a live trade must still be steered out at cutoff.
			forced, err := r.forceCutoff(cutoff.Current())
			if err = h.tradeResult(id, forced, err); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if cutoff.Current() && !cutoff.Rising() && r.Trader.State().Inactive() {
			continue
		}
		in := &trade.Inputs{
			Snapshot:     snap,
			Runner:       &snap.Runners[idx],
			Features:     r.Graph,
			TradeAllowed: true,
			Cutoff:       cutoff.Current(),
		}
		forced, err := r.tradeTick(ctx, in)
		if err = h.tradeResult(id, forced, err); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) tradeResult(id int64, forced bool, err error) error {
	if forced && h.deps.Metrics != nil {
		h.deps.Metrics.RecordMarketEvent("cutoff_forced")
	}
	if err != nil {
		h.log.Error("trade tick failed", applogger.SelectionID(id), applogger.Error(err))
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordError("trade_tick")
		}
	}
	return err
}

// Close finalizes the market once: every runner's features and orders are handed to persistence,
// then the market state is released. Later calls are logged no-ops.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.log.Warn("market already closed")
		return nil
	}
	h.closed = true
	runners := make([]*Runner, 0, len(h.order))
	for _, id := range h.order {
		r := h.runners[id]
		// Fills reported after the last snapshot still belong in the persisted order log.
		r.Trader.UpdateOrders()
		runners = append(runners, r)
	}
	closedAt := time.Now()
	if h.last != nil {
		closedAt = h.last.Timestamp
	}
	h.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, h.cfg.PersistTimeout)
	defer cancel()

	var errs []error
	for _, r := range runners {
		if err := h.persist(pctx, r, closedAt); err != nil {
			h.log.Error("persist runner failed", applogger.SelectionID(r.SelectionID), applogger.Error(err))
			if h.deps.Metrics != nil {
				h.deps.Metrics.RecordError("persist")
			}
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	h.history = nil
	h.env = nil
	h.runners = make(map[int64]*Runner)
	h.mu.Unlock()

	h.log.Info("market closed", applogger.Int("runners", len(runners)))
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordMarketEvent("close")
	}
	if h.onClose != nil {
		h.onClose(h.MarketID)
	}
	return errors.Join(errs...)
}

func (h *Handler) persist(ctx context.Context, r *Runner, closedAt time.Time) error {
	res, err := r.result(h.MarketID, closedAt)
	if err != nil {
		return err
	}
	var errs []error
	if h.deps.Results != nil {
		if err := h.deps.Results.SaveRunner(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("save features: %w", err))
		}
	}
	if h.deps.Orders != nil && len(res.Orders) > 0 {
		if err := h.deps.Orders.SaveOrders(ctx, h.MarketID, r.SelectionID, res.Orders); err != nil {
			errs = append(errs, fmt.Errorf("save orders: %w", err))
		}
	}
	return errors.Join(errs...)
}
