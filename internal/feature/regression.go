package feature

import (
	"math"
	"time"
)

// RegressionResult is the output of a regression feature.
type RegressionResult struct {
	Gradient  float64   `json:"gradient"`
	Intercept float64   `json:"intercept"`
	RSquared  float64   `json:"rsquared"`
	Predicted []float64 `json:"predicted,omitempty"`
}

type regressionKwargs struct {
	ElementCount int     `yaml:"element_count" validate:"gte=0"`
	CacheSeconds float64 `yaml:"cache_seconds" validate:"gte=0,excluded_with=ElementCount"`
	MinPoints    int     `yaml:"min_points" default:"3" validate:"gte=2"`
	GradientSign string  `yaml:"gradient_sign" default:"any" validate:"oneof=any positive negative"`
	MinRSquared  float64 `yaml:"min_rsquared" validate:"gte=0,lte=1"`
	Output       string  `yaml:"output" default:"gradient" validate:"oneof=gradient predict"`
}

// regression fits value against seconds-before-now over the trailing parent samples.
type regression struct {
	noInit
	span         span
	minPoints    int
	gradientSign string
	minRSquared  float64
	predict      bool
}

func newRegression(k *regressionKwargs) (Calculator, error) {
	return &regression{
		span:         span{count: k.ElementCount, duration: seconds(k.CacheSeconds)},
		minPoints:    k.MinPoints,
		gradientSign: k.GradientSign,
		minRSquared:  k.MinRSquared,
		predict:      k.Output == "predict",
	}, nil
}

func (c *regression) Lookback() time.Duration { return c.span.duration }

func (c *regression) ParentRequirement() Requirement {
	r := c.span.requirement()
	if r.Count == 0 && r.Duration == 0 {
		r.Count = c.minPoints
	}
	return r
}

func (c *regression) Compute(t *Tick) (Value, bool, error) {
	es := c.span.entries(t)
	if len(es) < c.minPoints {
		return nil, false, nil
	}
	ys, err := floats(es)
	if err != nil {
		return nil, false, err
	}
	xs := make([]float64, len(es))
	for i, e := range es {
		xs[i] = e.Time.Sub(t.Time).Seconds()
	}

	res, ok := fitLine(xs, ys)
	if !ok {
		return nil, false, nil
	}
	switch c.gradientSign {
	case "positive":
		if res.Gradient <= 0 {
			return nil, false, nil
		}
	case "negative":
		if res.Gradient >= 0 {
			return nil, false, nil
		}
	}
	if c.minRSquared > 0 && res.RSquared < c.minRSquared {
		return nil, false, nil
	}
	if c.predict {
		res.Predicted = make([]float64, len(xs))
		for i, x := range xs {
			res.Predicted[i] = res.Intercept + res.Gradient*x
		}
	}
	return res, true, nil
}

// fitLine is ordinary least squares. R-squared is 0 when y has no variance; false when x has none.
func fitLine(xs, ys []float64) (RegressionResult, bool) {
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n

	var sxx, sxy, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return RegressionResult{}, false
	}

	res := RegressionResult{Gradient: sxy / sxx}
	res.Intercept = my - res.Gradient*mx
	if syy > 0 {
		var ssRes float64
		for i := range xs {
			e := ys[i] - (res.Intercept + res.Gradient*xs[i])
			ssRes += e * e
		}
		res.RSquared = math.Max(0, 1-ssRes/syy)
	}
	return res, true
}
