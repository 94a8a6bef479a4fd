package feature

import (
	"sort"

	"github.com/shopspring/decimal"
)

type tickBand struct {
	upTo string
	step string
}

// Exchange price increments between 1.01 and 1000.
var tickBands = []tickBand{
	{"2", "0.01"},
	{"3", "0.02"},
	{"4", "0.05"},
	{"6", "0.1"},
	{"10", "0.2"},
	{"20", "0.5"},
	{"30", "1"},
	{"50", "2"},
	{"100", "5"},
	{"1000", "10"},
}

// Ladder is the ordered set of valid exchange prices.
type Ladder struct {
	ticks  []decimal.Decimal
	prices []float64
}

// DefaultLadder is the standard odds ladder.
var DefaultLadder = newLadder()

func newLadder() *Ladder {
	l := &Ladder{}
	p := decimal.RequireFromString("1.01")
	for _, b := range tickBands {
		upTo := decimal.RequireFromString(b.upTo)
		step := decimal.RequireFromString(b.step)
		for p.LessThan(upTo) {
			l.ticks = append(l.ticks, p)
			p = p.Add(step)
		}
	}
	l.ticks = append(l.ticks, p)
	l.prices = make([]float64, len(l.ticks))
	for i, t := range l.ticks {
		l.prices[i] = t.InexactFloat64()
	}
	return l
}

// Len returns the number of ticks.
func (l *Ladder) Len() int { return len(l.prices) }

// Index returns the index of the tick nearest to price.
func (l *Ladder) Index(price float64) (int, bool) {
	if price < l.prices[0] || price > l.prices[len(l.prices)-1] {
		return 0, false
	}
	i := sort.SearchFloat64s(l.prices, price)
	if i == len(l.prices) {
		return i - 1, true
	}
	if i > 0 {
		target := decimal.NewFromFloat(price)
		below := target.Sub(l.ticks[i-1]).Abs()
		above := l.ticks[i].Sub(target).Abs()
		if below.LessThan(above) {
			return i - 1, true
		}
	}
	return i, true
}

// Price returns the tick price at index.
func (l *Ladder) Price(index int) (float64, bool) {
	if index < 0 || index >= len(l.prices) {
		return 0, false
	}
	return l.prices[index], true
}

// Round snaps price to the nearest valid tick.
func (l *Ladder) Round(price float64) (float64, bool) {
	i, ok := l.Index(price)
	if !ok {
		return 0, false
	}
	return l.prices[i], true
}

// Between returns the signed number of ticks from a to b.
func (l *Ladder) Between(a, b float64) (int, bool) {
	ia, ok := l.Index(a)
	if !ok {
		return 0, false
	}
	ib, ok := l.Index(b)
	if !ok {
		return 0, false
	}
	return ib - ia, true
}
