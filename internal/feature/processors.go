package feature

import (
	"fmt"
	"math"
)

// Value processor names.
const (
	ProcAbs       = "abs"
	ProcInvert    = "invert"
	ProcScale     = "scale"
	ProcClip      = "clip"
	ProcRoundTick = "round_tick"
	ProcField     = "field"
)

type scaleKwargs struct {
	Factor float64 `yaml:"factor" validate:"required"`
}

type clipKwargs struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

type fieldKwargs struct {
	Name string `yaml:"name" validate:"oneof=gradient intercept rsquared"`
}

func numeric(f func(x float64) (float64, bool)) ValueProcessor {
	return ValueProcessorFunc(func(v Value) (Value, bool) {
		x, ok := AsFloat(v)
		if !ok {
			return nil, false
		}
		return f(x)
	})
}

func registerProcessors(r *Registry) {
	r.RegisterProcessor(ProcAbs, func(raw map[string]any) (ValueProcessor, error) {
		if err := decodeKwargs(raw, &struct{}{}); err != nil {
			return nil, err
		}
		return numeric(func(x float64) (float64, bool) { return math.Abs(x), true }), nil
	})
	r.RegisterProcessor(ProcInvert, func(raw map[string]any) (ValueProcessor, error) {
		if err := decodeKwargs(raw, &struct{}{}); err != nil {
			return nil, err
		}
		return numeric(func(x float64) (float64, bool) {
			if x == 0 {
				return 0, false
			}
			return 1 / x, true
		}), nil
	})
	r.RegisterProcessor(ProcScale, func(raw map[string]any) (ValueProcessor, error) {
		var k scaleKwargs
		if err := decodeKwargs(raw, &k); err != nil {
			return nil, err
		}
		return numeric(func(x float64) (float64, bool) { return x * k.Factor, true }), nil
	})
	r.RegisterProcessor(ProcClip, func(raw map[string]any) (ValueProcessor, error) {
		var k clipKwargs
		if err := decodeKwargs(raw, &k); err != nil {
			return nil, err
		}
		if k.Min != nil && k.Max != nil && *k.Min > *k.Max {
			return nil, fmt.Errorf("min %v above max %v", *k.Min, *k.Max)
		}
		return numeric(func(x float64) (float64, bool) {
			if k.Min != nil {
				x = math.Max(x, *k.Min)
			}
			if k.Max != nil {
				x = math.Min(x, *k.Max)
			}
			return x, true
		}), nil
	})
	r.RegisterProcessor(ProcRoundTick, func(raw map[string]any) (ValueProcessor, error) {
		if err := decodeKwargs(raw, &struct{}{}); err != nil {
			return nil, err
		}
		return numeric(DefaultLadder.Round), nil
	})
	r.RegisterProcessor(ProcField, func(raw map[string]any) (ValueProcessor, error) {
		var k fieldKwargs
		if err := decodeKwargs(raw, &k); err != nil {
			return nil, err
		}
		return ValueProcessorFunc(func(v Value) (Value, bool) {
			res, ok := v.(RegressionResult)
			if !ok {
				return nil, false
			}
			switch k.Name {
			case "gradient":
				return res.Gradient, true
			case "intercept":
				return res.Intercept, true
			default:
				return res.RSquared, true
			}
		}), nil
	})
}

type pipeline []ValueProcessor

func (p pipeline) apply(v Value) (Value, bool) {
	for _, proc := range p {
		var ok bool
		if v, ok = proc.Apply(v); !ok {
			return nil, false
		}
	}
	return v, true
}
