package window

import (
	"fmt"
	"math"
	"sort"
	"time"

	"BetPull/internal/domain/models"
)

// Processor keys.
const (
	KeyTradedVolumeDiff = "traded_volume_diff"
	KeyAttributeHistory = "attribute_history"
)

type factory func(kwargs map[string]any) (Processor, error)

var registry = map[string]factory{
	KeyTradedVolumeDiff: func(map[string]any) (Processor, error) { return NewLadderDiff(), nil },
	KeyAttributeHistory: newAttributeHistoryFromKwargs,
}

// RunnerDiff is the traded volume matched inside the window for one runner.
type RunnerDiff struct {
	Ladder []models.PriceSize
	Total  float64
}

// LadderDiff tracks the traded-volume ladder delta between the window boundary and now.
type LadderDiff struct {
	baseline map[int64]map[float64]float64
	diffs    map[int64]RunnerDiff
	primed   bool
}

// NewLadderDiff creates a ladder-diff processor.
func NewLadderDiff() *LadderDiff {
	return &LadderDiff{
		baseline: make(map[int64]map[float64]float64),
		diffs:    make(map[int64]RunnerDiff),
	}
}

func (p *LadderDiff) Key() string { return KeyTradedVolumeDiff }

func (p *LadderDiff) Update(w *Window, history []*models.Snapshot) error {
	if !p.primed || w.Moved() {
		p.capture(history[w.Start()])
		p.primed = true
	}

	cur := history[len(history)-1]
	diffs := make(map[int64]RunnerDiff, len(cur.Runners))
	for i := range cur.Runners {
		r := &cur.Runners[i]
		base := p.baseline[r.SelectionID]
		var d RunnerDiff
		for _, ps := range r.TradedVolume {
			delta := ps.Size - base[ps.Price]
			if delta <= 0 {
				continue
			}
			d.Ladder = append(d.Ladder, models.PriceSize{Price: ps.Price, Size: delta})
			d.Total += delta
		}
		sort.Slice(d.Ladder, func(a, b int) bool { return d.Ladder[a].Price < d.Ladder[b].Price })
		diffs[r.SelectionID] = d
	}
	p.diffs = diffs
	return nil
}

func (p *LadderDiff) capture(s *models.Snapshot) {
	p.baseline = make(map[int64]map[float64]float64, len(s.Runners))
	for i := range s.Runners {
		r := &s.Runners[i]
		ladder := make(map[float64]float64, len(r.TradedVolume))
		for _, ps := range r.TradedVolume {
			ladder[ps.Price] = ps.Size
		}
		p.baseline[r.SelectionID] = ladder
	}
}

// Runner returns the latest diff for a runner.
func (p *LadderDiff) Runner(selectionID int64) (RunnerDiff, bool) {
	d, ok := p.diffs[selectionID]
	return d, ok
}

// Entry is one timestamped attribute observation.
type Entry struct {
	Index int
	Time  time.Time
	Value float64
}

// Attribute readers for AttributeHistory.
var attributes = map[string]func(r *models.RunnerSnapshot) (float64, bool){
	"ltp": func(r *models.RunnerSnapshot) (float64, bool) {
		return r.LastTradedPrice, r.HasLTP()
	},
	"best_back": func(r *models.RunnerSnapshot) (float64, bool) {
		ps, ok := r.BestBack(0)
		return ps.Price, ok
	},
	"best_lay": func(r *models.RunnerSnapshot) (float64, bool) {
		ps, ok := r.BestLay(0)
		return ps.Price, ok
	},
	"total_matched": func(r *models.RunnerSnapshot) (float64, bool) {
		return r.TotalMatched, r.TotalMatched > 0
	},
}

// AttributeHistory keeps per-runner observations of one attribute that fall inside the window.
type AttributeHistory struct {
	attribute string
	read      func(r *models.RunnerSnapshot) (float64, bool)
	entries   map[int64][]Entry
}

// NewAttributeHistory creates an attribute-history processor.
func NewAttributeHistory(attribute string) (*AttributeHistory, error) {
	read, ok := attributes[attribute]
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q", attribute)
	}
	return &AttributeHistory{
		attribute: attribute,
		read:      read,
		entries:   make(map[int64][]Entry),
	}, nil
}

func newAttributeHistoryFromKwargs(kwargs map[string]any) (Processor, error) {
	attr, _ := kwargs["attribute"].(string)
	if attr == "" {
		return nil, fmt.Errorf("attribute is required")
	}
	return NewAttributeHistory(attr)
}

func (p *AttributeHistory) Key() string { return KeyAttributeHistory }

// Attribute returns the tracked attribute name.
func (p *AttributeHistory) Attribute() string { return p.attribute }

func (p *AttributeHistory) Update(w *Window, history []*models.Snapshot) error {
	idx := len(history) - 1
	cur := history[idx]
	for i := range cur.Runners {
		r := &cur.Runners[i]
		if v, ok := p.read(r); ok {
			p.entries[r.SelectionID] = append(p.entries[r.SelectionID], Entry{Index: idx, Time: cur.Timestamp, Value: v})
		}
	}
	for sel, es := range p.entries {
		k := 0
		for k < len(es) && es[k].Index < w.Start() {
			k++
		}
		if k > 0 {
			p.entries[sel] = es[k:]
		}
	}
	return nil
}

// Values returns the retained observations for a runner, oldest first.
func (p *AttributeHistory) Values(selectionID int64) []Entry {
	return p.entries[selectionID]
}

// Range returns min and max of the retained values.
func (p *AttributeHistory) Range(selectionID int64) (lo, hi float64, ok bool) {
	es := p.entries[selectionID]
	if len(es) == 0 {
		return 0, 0, false
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, e := range es {
		lo = math.Min(lo, e.Value)
		hi = math.Max(hi, e.Value)
	}
	return lo, hi, true
}
