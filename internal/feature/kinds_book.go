package feature

import (
	"fmt"
	"time"

	"BetPull/internal/domain/models"
	"BetPull/internal/window"
)

// Top-level feature classes.
const (
	ClassBestBack     = "best_back"
	ClassBestLay      = "best_lay"
	ClassLTP          = "ltp"
	ClassBackSize     = "back_size"
	ClassLaySize      = "lay_size"
	ClassSpreadTicks  = "spread_ticks"
	ClassWOM          = "wom"
	ClassTradedVolume = "traded_volume"
	ClassLTPRange     = "ltp_range"
	ClassBookPercent  = "book_percent"
)

func registerBookKinds(r *Registry) {
	r.Register(ClassBestBack, Kind{New: typed(func(k *levelKwargs) (Calculator, error) {
		return &bestPrice{level: k.Level, side: models.SideBack}, nil
	})})
	r.Register(ClassBestLay, Kind{New: typed(func(k *levelKwargs) (Calculator, error) {
		return &bestPrice{level: k.Level, side: models.SideLay}, nil
	})})
	r.Register(ClassLTP, Kind{New: typed(func(*struct{}) (Calculator, error) {
		return ltp{}, nil
	})})
	r.Register(ClassBackSize, Kind{New: typed(func(k *depthKwargs) (Calculator, error) {
		return &bookSize{levels: k.Levels, side: models.SideBack}, nil
	})})
	r.Register(ClassLaySize, Kind{New: typed(func(k *depthKwargs) (Calculator, error) {
		return &bookSize{levels: k.Levels, side: models.SideLay}, nil
	})})
	r.Register(ClassSpreadTicks, Kind{New: typed(func(*struct{}) (Calculator, error) {
		return spreadTicks{}, nil
	})})
	r.Register(ClassWOM, Kind{New: typed(func(k *womKwargs) (Calculator, error) {
		return &wom{levels: k.Levels}, nil
	})})
	r.Register(ClassTradedVolume, Kind{New: typed(func(k *windowKwargs) (Calculator, error) {
		return &tradedVolume{width: seconds(k.WindowSeconds)}, nil
	})})
	r.Register(ClassLTPRange, Kind{New: typed(func(k *windowKwargs) (Calculator, error) {
		return &ltpRange{width: seconds(k.WindowSeconds)}, nil
	})})
	r.Register(ClassBookPercent, Kind{New: typed(func(k *bookPercentKwargs) (Calculator, error) {
		return &bookPercent{side: models.Side(k.Side)}, nil
	})})
}

type levelKwargs struct {
	Level int `yaml:"level" validate:"gte=0,lte=9"`
}

type depthKwargs struct {
	Levels int `yaml:"levels" default:"1" validate:"gte=1,lte=10"`
}

type womKwargs struct {
	Levels int `yaml:"levels" default:"3" validate:"gte=1,lte=10"`
}

type windowKwargs struct {
	WindowSeconds float64 `yaml:"window_seconds" validate:"required,gt=0"`
}

type bookPercentKwargs struct {
	Side string `yaml:"side" default:"BACK" validate:"oneof=BACK LAY"`
}

// noInit is embedded by calculators that need no setup.
type noInit struct{}

func (noInit) Init(*InitContext) error { return nil }
func (noInit) Lookback() time.Duration { return 0 }

func ladderSide(r *models.RunnerSnapshot, side models.Side) []models.PriceSize {
	if side == models.SideBack {
		return r.Back
	}
	return r.Lay
}

type bestPrice struct {
	noInit
	level int
	side  models.Side
}

func (c *bestPrice) Compute(t *Tick) (Value, bool, error) {
	l := ladderSide(t.Runner, c.side)
	if c.level >= len(l) {
		return nil, false, nil
	}
	return l[c.level].Price, true, nil
}

type ltp struct{ noInit }

func (ltp) Compute(t *Tick) (Value, bool, error) {
	if !t.Runner.HasLTP() {
		return nil, false, nil
	}
	return t.Runner.LastTradedPrice, true, nil
}

type bookSize struct {
	noInit
	levels int
	side   models.Side
}

func (c *bookSize) Compute(t *Tick) (Value, bool, error) {
	l := ladderSide(t.Runner, c.side)
	if len(l) == 0 {
		return nil, false, nil
	}
	total := 0.0
	for i := 0; i < c.levels && i < len(l); i++ {
		total += l[i].Size
	}
	return total, true, nil
}

type spreadTicks struct{ noInit }

func (spreadTicks) Compute(t *Tick) (Value, bool, error) {
	back, ok := t.Runner.BestBack(0)
	if !ok {
		return nil, false, nil
	}
	lay, ok := t.Runner.BestLay(0)
	if !ok {
		return nil, false, nil
	}
	n, ok := DefaultLadder.Between(back.Price, lay.Price)
	if !ok {
		return nil, false, nil
	}
	return float64(n), true, nil
}

// wom is weight of money: back size over total size across the top levels.
type wom struct {
	noInit
	levels int
}

func (c *wom) Compute(t *Tick) (Value, bool, error) {
	var back, lay float64
	for i := 0; i < c.levels; i++ {
		if ps, ok := t.Runner.BestBack(i); ok {
			back += ps.Size
		}
		if ps, ok := t.Runner.BestLay(i); ok {
			lay += ps.Size
		}
	}
	if back+lay == 0 {
		return nil, false, nil
	}
	return back / (back + lay), true, nil
}

type tradedVolume struct {
	width time.Duration
	diff  *window.LadderDiff
}

func (c *tradedVolume) Init(ctx *InitContext) error {
	p, err := ctx.Env.Windows.AddFunction(c.width, window.KeyTradedVolumeDiff, nil)
	if err != nil {
		return err
	}
	d, ok := p.(*window.LadderDiff)
	if !ok {
		return fmt.Errorf("%w: %s is %T", ErrWindowMissing, window.KeyTradedVolumeDiff, p)
	}
	c.diff = d
	return nil
}

func (c *tradedVolume) Lookback() time.Duration { return c.width }

func (c *tradedVolume) Compute(t *Tick) (Value, bool, error) {
	if c.diff == nil {
		return nil, false, fmt.Errorf("%w: %s over %s", ErrWindowMissing, window.KeyTradedVolumeDiff, c.width)
	}
	d, ok := c.diff.Runner(t.SelectionID)
	if !ok {
		return nil, false, nil
	}
	return d.Total, true, nil
}

// ltpRange is the tick distance between the highest and lowest traded price inside the window.
type ltpRange struct {
	width time.Duration
	hist  *window.AttributeHistory
}

func (c *ltpRange) Init(ctx *InitContext) error {
	p, err := ctx.Env.Windows.AddFunction(c.width, window.KeyAttributeHistory, map[string]any{"attribute": "ltp"})
	if err != nil {
		return err
	}
	h, ok := p.(*window.AttributeHistory)
	if !ok {
		return fmt.Errorf("%w: %s is %T", ErrWindowMissing, window.KeyAttributeHistory, p)
	}
	c.hist = h
	return nil
}

func (c *ltpRange) Lookback() time.Duration { return c.width }

func (c *ltpRange) Compute(t *Tick) (Value, bool, error) {
	if c.hist == nil {
		return nil, false, fmt.Errorf("%w: %s over %s", ErrWindowMissing, window.KeyAttributeHistory, c.width)
	}
	lo, hi, ok := c.hist.Range(t.SelectionID)
	if !ok {
		return nil, false, nil
	}
	n, ok := DefaultLadder.Between(lo, hi)
	if !ok {
		return nil, false, nil
	}
	return float64(n), true, nil
}

// bookPercent is the market overround: the sum of implied probabilities of each runner's best price.
type bookPercent struct {
	noInit
	side models.Side
}

func (c *bookPercent) Compute(t *Tick) (Value, bool, error) {
	total := 0.0
	seen := false
	for i := range t.Snapshot.Runners {
		l := ladderSide(&t.Snapshot.Runners[i], c.side)
		if len(l) == 0 || l[0].Price <= 0 {
			continue
		}
		total += 1 / l[0].Price
		seen = true
	}
	if !seen {
		return nil, false, nil
	}
	return total * 100, true, nil
}
