package trade

import (
	"errors"
	"fmt"
	"time"

	"BetPull/internal/domain/models"
)

// Strategy types.
const (
	StrategyThreshold = "threshold"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingFeature      = errors.New("threshold strategy requires a feature id")
	ErrBadOperator         = errors.New("threshold operator must be gt or lt")
	ErrBadStake            = errors.New("stake must be positive")
)

// FeatureReader reads current feature values; *feature.Graph satisfies it.
type FeatureReader interface {
	Float(id string) (float64, bool)
}

// Inputs is what a handler sees on one tick.
type Inputs struct {
	Snapshot *models.Snapshot
	Runner   *models.RunnerSnapshot
	Features FeatureReader
	// TradeAllowed and Cutoff are the current gate states.
	TradeAllowed bool
	Cutoff       bool
}

// Now is the snapshot time.
func (in *Inputs) Now() time.Time { return in.Snapshot.Timestamp }

// Signal asks for a new trade.
type Signal struct {
	Side  models.Side
	Stake float64
}

// Strategy decides when to open and when to leave a position early.
type Strategy interface {
	Name() string
	Entry(in *Inputs) (Signal, bool)
	Exit(in *Inputs, t *Trade) bool
}

// StrategyConfig selects and parameterizes a strategy.
type StrategyConfig struct {
	Type         string
	FeatureID    string
	Operator     string
	Threshold    float64
	Side         models.Side
	Stake        float64
	ExitOnRevert bool
}

// FromConfig builds a Strategy.
func FromConfig(cfg StrategyConfig) (Strategy, error) {
	switch cfg.Type {
	case StrategyThreshold, "":
		return newThreshold(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategyType, cfg.Type)
	}
}

// Threshold opens when a feature crosses a fixed level.
type Threshold struct {
	FeatureID    string
	Above        bool
	Level        float64
	Side         models.Side
	Stake        float64
	ExitOnRevert bool
}

func newThreshold(cfg StrategyConfig) (*Threshold, error) {
	if cfg.FeatureID == "" {
		return nil, ErrMissingFeature
	}
	if cfg.Stake <= 0 {
		return nil, ErrBadStake
	}
	t := &Threshold{
		FeatureID:    cfg.FeatureID,
		Level:        cfg.Threshold,
		Side:         cfg.Side,
		Stake:        cfg.Stake,
		ExitOnRevert: cfg.ExitOnRevert,
	}
	switch cfg.Operator {
	case "gt", "":
		t.Above = true
	case "lt":
	default:
		return nil, ErrBadOperator
	}
	if t.Side == "" {
		t.Side = models.SideBack
	}
	return t, nil
}

func (s *Threshold) Name() string { return StrategyThreshold }

func (s *Threshold) triggered(in *Inputs) (bool, bool) {
	v, ok := in.Features.Float(s.FeatureID)
	if !ok {
		return false, false
	}
	if s.Above {
		return v > s.Level, true
	}
	return v < s.Level, true
}

func (s *Threshold) Entry(in *Inputs) (Signal, bool) {
	hit, ok := s.triggered(in)
	if !ok || !hit {
		return Signal{}, false
	}
	return Signal{Side: s.Side, Stake: s.Stake}, true
}

func (s *Threshold) Exit(in *Inputs, _ *Trade) bool {
	if !s.ExitOnRevert {
		return false
	}
	hit, ok := s.triggered(in)
	return ok && !hit
}
