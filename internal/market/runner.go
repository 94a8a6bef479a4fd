package market

import (
	"context"
	"fmt"
	"time"

	"BetPull/internal/domain/models"
	"BetPull/internal/feature"
	"BetPull/internal/trade"
)

// Runner is the per-selection state of a market: its feature graph and its trader.
type Runner struct {
	SelectionID int64
	Graph       *feature.Graph
	Trader      *trade.Trader

	cutoffForced bool
}

// forceCutoff queues the cutoff hedge-out once per runner, on the first cutoff tick that finds it
// holding a trade, whether or not the runner is in that snapshot.
func (r *Runner) forceCutoff(cutoff bool) (bool, error) {
	if !cutoff || r.cutoffForced || r.Trader.State().Inactive() {
		return false, nil
	}
	if err := r.Trader.ForceCutoff(); err != nil {
		return false, fmt.Errorf("runner %d: %w", r.SelectionID, err)
	}
	r.cutoffForced = true
	return true, nil
}

// tradeTick runs the trader for one snapshot. It reports whether the cutoff sequence was forced.
func (r *Runner) tradeTick(ctx context.Context, in *trade.Inputs) (bool, error) {
	forced, err := r.forceCutoff(in.Cutoff)
	if err != nil {
		return false, err
	}
	if err := r.Trader.Run(ctx, in); err != nil {
		return forced, fmt.Errorf("runner %d: %w", r.SelectionID, err)
	}
	r.Trader.UpdateOrders()
	if r.Trader.State() == trade.StateCleaning {
		r.Trader.Reset()
	}
	return forced, nil
}

// result assembles the persistence payload of the runner.
func (r *Runner) result(marketID string, closedAt time.Time) (*models.RunnerResult, error) {
	data, err := r.Graph.GetData()
	if err != nil {
		return nil, err
	}
	features := make(map[string][]models.FeaturePoint, len(data))
	for id, series := range data {
		points := make([]models.FeaturePoint, len(series))
		for i, e := range series {
			points[i] = models.FeaturePoint{Time: e.Time, Value: e.Value}
		}
		features[id] = points
	}
	return &models.RunnerResult{
		MarketID:    marketID,
		SelectionID: r.SelectionID,
		Features:    features,
		Orders:      r.Trader.Orders(),
		ClosedAt:    closedAt,
	}, nil
}
