// Command simulate replays a JSON-lines snapshot file offline, either through a single feature
// graph per runner or through a full market handler with paper execution.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"BetPull/internal/domain/models"
	"BetPull/internal/feature"
	"BetPull/internal/gate"
	"BetPull/internal/market"
	"BetPull/internal/repository"
	"BetPull/internal/trade"
	"BetPull/internal/usecase"
	applogger "BetPull/pkg/logger"
	"BetPull/pkg/util"
)

type options struct {
	snapshots   string
	features    string
	marketID    string
	selectionID int64
	start       string
	end         string
	buffer      time.Duration
	mode        string
	out         string
	strategy    string
	threshold   float64
	operator    string
	stake       float64
	fillRate    float64
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.snapshots, "snapshots", "", "JSON-lines snapshot file (required)")
	flag.StringVar(&o.features, "features", "config/features.yaml", "feature config file")
	flag.StringVar(&o.marketID, "market", "", "market id; defaults to the first snapshot's market")
	flag.Int64Var(&o.selectionID, "selection", 0, "selection id for graph mode; 0 runs every runner")
	flag.StringVar(&o.start, "start", "", "window start (RFC3339 or unix seconds/ms); defaults to the first snapshot")
	flag.StringVar(&o.end, "end", "", "window end; defaults to the last snapshot")
	flag.DurationVar(&o.buffer, "buffer", 0, "extra pre-roll before start")
	flag.StringVar(&o.mode, "mode", "graph", "graph or market")
	flag.StringVar(&o.out, "out", "", "output file; defaults to stdout")
	flag.StringVar(&o.strategy, "strategy-feature", "", "market mode: feature id of the threshold strategy; empty disables trading")
	flag.Float64Var(&o.threshold, "threshold", 0, "market mode: strategy threshold")
	flag.StringVar(&o.operator, "operator", "gt", "market mode: gt or lt")
	flag.Float64Var(&o.stake, "stake", 2, "market mode: stake per trade")
	flag.Float64Var(&o.fillRate, "fill-rate", 1, "market mode: paper fill rate in (0, 1]")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		log.Fatalf("simulate: %v", err)
	}
}

func run(ctx context.Context, o options) error {
	if o.snapshots == "" {
		return fmt.Errorf("-snapshots is required")
	}
	level := "info"
	if o.verbose {
		level = "debug"
	}
	l, err := applogger.New(&applogger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	f, err := os.Open(o.snapshots)
	if err != nil {
		return err
	}
	snaps, err := usecase.ReadSnapshots(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return usecase.ErrNoSnapshots
	}
	if o.marketID == "" {
		o.marketID = snaps[0].MarketID
	}
	snaps = usecase.FilterMarket(snaps, o.marketID)
	if len(snaps) == 0 {
		return fmt.Errorf("market %s: %w", o.marketID, usecase.ErrNoSnapshots)
	}

	features, err := feature.LoadConfig(o.features)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if o.out != "" {
		of, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer of.Close()
		w = of
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	l.Info("replaying",
		applogger.MarketID(o.marketID),
		applogger.Int("snapshots", len(snaps)),
		applogger.String("mode", o.mode))

	switch o.mode {
	case "graph":
		out, err := simulateGraphs(snaps, features, o)
		if err != nil {
			return err
		}
		return enc.Encode(out)
	case "market":
		results, err := simulateMarket(ctx, snaps, features, o, l)
		if err != nil {
			l.Warn("market replay finished with errors", applogger.Error(err))
		}
		return enc.Encode(results)
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}
}

// simulateGraphs returns selection id -> feature id -> series.
func simulateGraphs(snaps []*models.Snapshot, features feature.Config, o options) (map[int64]map[string][]feature.Entry, error) {
	start := util.ParseTimeDefault(o.start, snaps[0].Timestamp)
	end := util.ParseTimeDefault(o.end, snaps[len(snaps)-1].Timestamp)

	selections := []int64{o.selectionID}
	if o.selectionID == 0 {
		selections = selections[:0]
		for _, r := range snaps[0].Runners {
			selections = append(selections, r.SelectionID)
		}
	}

	registry := feature.DefaultRegistry()
	out := make(map[int64]map[string][]feature.Entry, len(selections))
	for _, id := range selections {
		g, err := feature.Generate(features, registry)
		if err != nil {
			return nil, err
		}
		data, err := g.Simulate(snaps, id, start, end, o.buffer)
		if err != nil {
			return nil, fmt.Errorf("selection %d: %w", id, err)
		}
		out[id] = data
	}
	return out, nil
}

// simulateMarket runs the full handler: gates, features and, when a strategy feature is given, paper trading.
func simulateMarket(ctx context.Context, snaps []*models.Snapshot, features feature.Config, o options, l *applogger.Logger) ([]*models.RunnerResult, error) {
	// gates open from the first snapshot so the whole file is processed
	lead := snaps[0].MarketStartTime.Sub(snaps[0].Timestamp) + time.Second
	if lead < time.Second {
		lead = time.Second
	}
	cfg := market.Config{
		Gates:    gate.Offsets{FeatureStart: lead, TradeAllowed: lead, Cutoff: 0},
		Features: features,
	}
	store := repository.NewMemoryResultStore()
	deps := market.Deps{Results: store, Log: l}
	if o.strategy != "" {
		cfg.Strategy = &trade.StrategyConfig{
			Type:      trade.StrategyThreshold,
			FeatureID: o.strategy,
			Operator:  o.operator,
			Threshold: o.threshold,
			Side:      models.SideBack,
			Stake:     o.stake,
		}
		ex := repository.NewPaperExchange(o.fillRate)
		deps.Executor, deps.Feedback = ex, ex
	}
	_, err := usecase.ReplayMarket(ctx, snaps, cfg, deps)
	return store.Market(o.marketID), err
}
