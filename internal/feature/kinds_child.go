package feature

import (
	"fmt"
	"time"
)

// Sub-feature classes.
const (
	ClassMovingAverage = "moving_average"
	ClassResample      = "resample"
	ClassDelayer       = "delayer"
	ClassTickIndex     = "tick_index"
	ClassRunningSum    = "running_sum"
	ClassDiff          = "diff"
	ClassRegression    = "regression"
)

func registerChildKinds(r *Registry) {
	r.Register(ClassMovingAverage, Kind{Child: true, New: typed(func(k *spanKwargs) (Calculator, error) {
		return &movingAverage{span: k.span()}, nil
	})})
	r.Register(ClassResample, Kind{Child: true, New: typed(func(k *resampleKwargs) (Calculator, error) {
		return &resample{periodic: Periodic{Interval: seconds(k.IntervalSeconds), Snap: k.Snap}}, nil
	})})
	r.Register(ClassDelayer, Kind{Child: true, New: typed(func(k *delayKwargs) (Calculator, error) {
		return &delayer{delay: seconds(k.DelaySeconds)}, nil
	})})
	r.Register(ClassTickIndex, Kind{Child: true, New: typed(func(*struct{}) (Calculator, error) {
		return tickIndex{}, nil
	})})
	r.Register(ClassRunningSum, Kind{Child: true, New: typed(func(*struct{}) (Calculator, error) {
		return &runningSum{}, nil
	})})
	r.Register(ClassDiff, Kind{Child: true, New: typed(func(*struct{}) (Calculator, error) {
		return diff{}, nil
	})})
	r.Register(ClassRegression, Kind{Child: true, New: typed(newRegression)})
}

// spanKwargs selects the trailing parent samples a child reads: the newest element_count,
// the newest cache_seconds, or the whole parent cache when neither is set.
type spanKwargs struct {
	ElementCount int     `yaml:"element_count" validate:"gte=0"`
	CacheSeconds float64 `yaml:"cache_seconds" validate:"gte=0,excluded_with=ElementCount"`
}

type span struct {
	count    int
	duration time.Duration
}

func (k *spanKwargs) span() span {
	return span{count: k.ElementCount, duration: seconds(k.CacheSeconds)}
}

func (s span) entries(t *Tick) []Entry {
	if s.duration > 0 {
		return t.Parent.Since(t.Time, s.duration)
	}
	return t.Parent.Tail(s.count)
}

func (s span) requirement() Requirement {
	return Requirement{Count: s.count, Duration: s.duration}
}

type resampleKwargs struct {
	IntervalSeconds float64 `yaml:"interval_seconds" validate:"required,gt=0"`
	Snap            bool    `yaml:"snap"`
}

type delayKwargs struct {
	DelaySeconds float64 `yaml:"delay_seconds" validate:"required,gt=0"`
}

func floats(es []Entry) ([]float64, error) {
	out := make([]float64, len(es))
	for i, e := range es {
		f, ok := AsFloat(e.Value)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrNotNumeric, e.Value)
		}
		out[i] = f
	}
	return out, nil
}

type movingAverage struct {
	noInit
	span span
}

func (c *movingAverage) Lookback() time.Duration        { return c.span.duration }
func (c *movingAverage) ParentRequirement() Requirement { return c.span.requirement() }

func (c *movingAverage) Compute(t *Tick) (Value, bool, error) {
	vs, err := floats(c.span.entries(t))
	if err != nil {
		return nil, false, err
	}
	if len(vs) == 0 {
		return nil, false, nil
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs)), true, nil
}

// resample re-emits the parent's latest value on its own clock.
type resample struct {
	noInit
	periodic Periodic
}

func (c *resample) Periodic() Periodic { return c.periodic }

func (c *resample) Compute(t *Tick) (Value, bool, error) {
	e, ok := t.Parent.Last()
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// delayer replays the parent stream delay behind the sample time.
type delayer struct {
	noInit
	delay time.Duration
}

func (c *delayer) Lookback() time.Duration        { return c.delay }
func (c *delayer) ParentRequirement() Requirement { return Requirement{Duration: c.delay} }

func (c *delayer) Compute(t *Tick) (Value, bool, error) {
	cutoff := t.Time.Add(-c.delay)
	es := t.Parent.Entries()
	for i := len(es) - 1; i >= 0; i-- {
		if !es[i].Time.After(cutoff) {
			return es[i].Value, true, nil
		}
	}
	return nil, false, nil
}

type tickIndex struct{ noInit }

func (tickIndex) Compute(t *Tick) (Value, bool, error) {
	e, ok := t.Parent.Last()
	if !ok {
		return nil, false, nil
	}
	p, ok := AsFloat(e.Value)
	if !ok {
		return nil, false, fmt.Errorf("%w: %T", ErrNotNumeric, e.Value)
	}
	i, ok := DefaultLadder.Index(p)
	if !ok {
		return nil, false, nil
	}
	return float64(i), true, nil
}

type runningSum struct {
	total float64
}

func (c *runningSum) Init(*InitContext) error {
	c.total = 0
	return nil
}

func (*runningSum) Lookback() time.Duration { return 0 }

func (c *runningSum) Compute(t *Tick) (Value, bool, error) {
	e, ok := t.Parent.Last()
	if !ok {
		return nil, false, nil
	}
	v, ok := AsFloat(e.Value)
	if !ok {
		return nil, false, fmt.Errorf("%w: %T", ErrNotNumeric, e.Value)
	}
	c.total += v
	return c.total, true, nil
}

// diff is the newest minus the oldest value held in the parent cache.
type diff struct{ noInit }

func (diff) Compute(t *Tick) (Value, bool, error) {
	if t.Parent.Len() < 2 {
		return nil, false, nil
	}
	first, _ := t.Parent.First()
	last, _ := t.Parent.Last()
	vs, err := floats([]Entry{first, last})
	if err != nil {
		return nil, false, err
	}
	return vs[1] - vs[0], true, nil
}
