package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
)

var (
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrOutOfOrder      = errors.New("snapshot out of order")
)

// Dispatcher is the downstream the pipeline feeds; usecase.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *models.Snapshot) error
}

// SnapshotPipeline sits between a snapshot source and the router. It validates snapshots,
// drops those whose timestamp does not advance for their market and optionally throttles.
type SnapshotPipeline struct {
	next     Dispatcher
	metrics  domrepo.Metrics
	source   string
	minGap   time.Duration
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-market last accepted timestamp
	// optional normalisation hook
	transform func(*models.Snapshot) *models.Snapshot
}

type PipelineOption func(*SnapshotPipeline)

// WithMaxRate keeps at most n snapshots per market per second of snapshot time. Zero disables throttling.
func WithMaxRate(n int) PipelineOption {
	return func(p *SnapshotPipeline) {
		if n > 0 {
			p.minGap = time.Second / time.Duration(n)
		}
	}
}

// WithSource labels the snapshot counter.
func WithSource(name string) PipelineOption {
	return func(p *SnapshotPipeline) { p.source = name }
}

// WithTransform sets a hook run on every snapshot before validation.
func WithTransform(fn func(*models.Snapshot) *models.Snapshot) PipelineOption {
	return func(p *SnapshotPipeline) { p.transform = fn }
}

func NewSnapshotPipeline(next Dispatcher, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		next:     next,
		metrics:  metrics,
		source:   "unknown",
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates and forwards one snapshot. Out-of-order snapshots are dropped and reported
// with ErrOutOfOrder; throttled ones are dropped silently.
func (p *SnapshotPipeline) Process(ctx context.Context, s *models.Snapshot) error {
	start := time.Now()
	if p.transform != nil && s != nil {
		s = p.transform(s)
	}
	if err := ValidateSnapshot(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	ok, err := p.admit(s)
	if err != nil {
		p.metrics.RecordError("pipeline_out_of_order")
		return err
	}
	if !ok {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.next.Dispatch(ctx, s); err != nil {
		p.metrics.RecordError("pipeline_dispatch")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordSnapshot(p.source)
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// admit applies the ordering and throttling rules. A CLOSED snapshot always passes
// when in order and forgets the market.
func (p *SnapshotPipeline) admit(s *models.Snapshot) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, seen := p.lastSeen[s.MarketID]
	if seen && !s.Timestamp.After(last) {
		return false, fmt.Errorf("%w: market %s at %s, last %s", ErrOutOfOrder,
			s.MarketID, s.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	if s.IsClosed() {
		delete(p.lastSeen, s.MarketID)
		return true, nil
	}
	if seen && p.minGap > 0 && s.Timestamp.Sub(last) < p.minGap {
		return false, nil
	}
	p.lastSeen[s.MarketID] = s.Timestamp
	return true, nil
}

// Tracked returns the number of markets with ordering state.
func (p *SnapshotPipeline) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen)
}

// ValidateSnapshot checks the structural rules every snapshot must satisfy.
func ValidateSnapshot(s *models.Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if s.MarketID == "" {
		return fmt.Errorf("%w: market id empty", ErrInvalidSnapshot)
	}
	if s.Timestamp.IsZero() || s.MarketStartTime.IsZero() {
		return fmt.Errorf("%w: market %s: timestamp and market start time are required", ErrInvalidSnapshot, s.MarketID)
	}
	switch s.Status {
	case models.MarketOpen, models.MarketSuspended, models.MarketClosed:
	default:
		return fmt.Errorf("%w: market %s: unknown status %q", ErrInvalidSnapshot, s.MarketID, s.Status)
	}

	seen := make(map[int64]struct{}, len(s.Runners))
	for i := range s.Runners {
		r := &s.Runners[i]
		if _, dup := seen[r.SelectionID]; dup {
			return fmt.Errorf("%w: market %s: duplicate selection %d", ErrInvalidSnapshot, s.MarketID, r.SelectionID)
		}
		seen[r.SelectionID] = struct{}{}
		if r.LastTradedPrice < 0 || r.TotalMatched < 0 {
			return fmt.Errorf("%w: market %s: selection %d has negative values", ErrInvalidSnapshot, s.MarketID, r.SelectionID)
		}
		for _, ladder := range [][]models.PriceSize{r.Back, r.Lay, r.TradedVolume} {
			for _, ps := range ladder {
				if ps.Price < 0 || ps.Size < 0 {
					return fmt.Errorf("%w: market %s: selection %d has a negative rung", ErrInvalidSnapshot, s.MarketID, r.SelectionID)
				}
			}
		}
	}
	return nil
}
