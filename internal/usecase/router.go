package usecase

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/market"
	applogger "BetPull/pkg/logger"
)

var ErrRouterStopped = errors.New("router stopped")

// RouterConfig sizes the router.
type RouterConfig struct {
	Shards          int
	QueueSize       int
	ClosedRetention time.Duration
	SweepInterval   time.Duration
}

// MarketCloser is told when a market has been finalized, e.g. to forget its rate limit bucket.
type MarketCloser interface {
	Forget(key string)
}

type marketEntry struct {
	h        *market.Handler
	closedAt time.Time
}

// Router owns every live market. Each market id hashes to one shard goroutine, so a market's
// snapshots are applied strictly in arrival order and never concurrently.
type Router struct {
	cfg     RouterConfig
	mcfg    market.Config
	deps    market.Deps
	log     *applogger.Logger
	metrics domrepo.Metrics
	closers []MarketCloser
	now     func() time.Time

	shards []chan *models.Snapshot

	mu      sync.RWMutex
	markets map[string]*marketEntry

	// stopMu guards stopped and the shard channels against close during a send.
	stopMu  sync.RWMutex
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewRouter(cfg RouterConfig, mcfg market.Config, deps market.Deps, closers ...MarketCloser) *Router {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if deps.Log == nil {
		deps.Log = applogger.Nop()
	}
	r := &Router{
		cfg:     cfg,
		mcfg:    mcfg,
		deps:    deps,
		log:     deps.Log,
		metrics: deps.Metrics,
		closers: closers,
		now:     time.Now,
		shards:  make([]chan *models.Snapshot, cfg.Shards),
		markets: make(map[string]*marketEntry),
		done:    make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = make(chan *models.Snapshot, cfg.QueueSize)
	}
	return r
}

// Start launches the shard workers and the retention sweeper.
func (r *Router) Start(ctx context.Context) {
	for i, q := range r.shards {
		r.wg.Add(1)
		go r.runShard(ctx, i, q)
	}
	r.wg.Add(1)
	go r.sweepLoop()
	r.log.Info("router started", applogger.Int("shards", len(r.shards)))
}

// Dispatch queues a snapshot on its market's shard, waiting while the shard is full.
func (r *Router) Dispatch(ctx context.Context, s *models.Snapshot) error {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()
	if r.stopped {
		return ErrRouterStopped
	}
	select {
	case r.shards[shardOf(s.MarketID, len(r.shards))] <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shardOf(marketID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(marketID))
	return int(h.Sum32() % uint32(n))
}

func (r *Router) runShard(ctx context.Context, id int, q <-chan *models.Snapshot) {
	defer r.wg.Done()
	for s := range q {
		r.apply(ctx, s)
	}
	r.log.Debug("shard drained", applogger.Int("shard", id))
}

func (r *Router) apply(ctx context.Context, s *models.Snapshot) {
	start := time.Now()
	r.mu.RLock()
	e := r.markets[s.MarketID]
	r.mu.RUnlock()

	if e == nil {
		if s.IsClosed() {
			r.log.Debug("ignoring closed snapshot of unknown market", applogger.MarketID(s.MarketID))
			return
		}
		h, err := market.NewHandler(s, r.mcfg, r.deps, market.WithCloseHook(r.onClose))
		if err != nil {
			r.log.Error("create market handler failed", applogger.MarketID(s.MarketID), applogger.Error(err))
			r.recordError("market_init")
			return
		}
		e = &marketEntry{h: h}
		r.mu.Lock()
		r.markets[s.MarketID] = e
		r.mu.Unlock()
		r.reportActive()
	}

	if err := e.h.Process(ctx, s); err != nil {
		r.log.Error("process snapshot failed",
			applogger.MarketID(s.MarketID),
			applogger.Time("timestamp", s.Timestamp),
			applogger.Error(err))
		r.recordError("market_process")
	}
	if r.metrics != nil {
		r.metrics.RecordLatency("market_process", time.Since(start).Seconds())
	}
}

// onClose runs on the shard goroutine right after a market is finalized.
func (r *Router) onClose(marketID string) {
	r.mu.Lock()
	if e, ok := r.markets[marketID]; ok {
		e.closedAt = r.now()
	}
	r.mu.Unlock()
	for _, c := range r.closers {
		c.Forget(marketID)
	}
	r.reportActive()
}

func (r *Router) sweepLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// Sweep evicts closed markets older than the retention period and returns how many went.
func (r *Router) Sweep() int {
	cutoff := r.now().Add(-r.cfg.ClosedRetention)
	r.mu.Lock()
	n := 0
	for id, e := range r.markets {
		if !e.closedAt.IsZero() && !e.closedAt.After(cutoff) {
			delete(r.markets, id)
			n++
		}
	}
	r.mu.Unlock()
	if n > 0 {
		r.log.Debug("evicted closed markets", applogger.Int("count", n))
	}
	return n
}

// Stop refuses new snapshots, drains the shards and finalizes markets that never closed.
func (r *Router) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.stopMu.Lock()
		r.stopped = true
		for _, q := range r.shards {
			close(q)
		}
		r.stopMu.Unlock()
		close(r.done)
	})

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, h := range r.Markets() {
		if !h.Closed() {
			errs = append(errs, h.Close(ctx))
		}
	}
	return errors.Join(errs...)
}

// Market returns the handler of a live or recently closed market.
func (r *Router) Market(id string) (*market.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markets[id]
	if !ok {
		return nil, false
	}
	return e.h, true
}

// Markets returns every held handler ordered by market id.
func (r *Router) Markets() []*market.Handler {
	r.mu.RLock()
	out := make([]*market.Handler, 0, len(r.markets))
	for _, e := range r.markets {
		out = append(out, e.h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Active counts markets that have not closed yet.
func (r *Router) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.markets {
		if e.closedAt.IsZero() {
			n++
		}
	}
	return n
}

func (r *Router) reportActive() {
	if r.metrics != nil {
		r.metrics.SetActiveMarkets(r.Active())
	}
}

func (r *Router) recordError(kind string) {
	if r.metrics != nil {
		r.metrics.RecordError(kind)
	}
}
