// Package feature computes per-runner trees of derived time series from market snapshots.
package feature

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"BetPull/internal/domain/models"
)

// Graph is the feature tree of one runner in one market.
type Graph struct {
	nodes       []*node
	roots       []int
	byID        map[string]int
	initialized bool
}

// Generate builds a graph from cfg. cfg is copied first and never mutated.
func Generate(cfg Config, reg *Registry) (*Graph, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	specs, err := buildSpecs(cfg.Clone(), reg, "", false)
	if err != nil {
		return nil, err
	}
	g := &Graph{byID: make(map[string]int)}
	for _, s := range specs {
		g.roots = append(g.roots, g.place(s, -1))
	}
	return g, nil
}

// specNode is the validated intermediate form of one Spec.
type specNode struct {
	id       string
	name     string
	class    string
	bound    Bound
	calc     Calculator
	pre      pipeline
	post     pipeline
	periodic *Periodic
	children []*specNode
}

func buildSpecs(cfg Config, reg *Registry, parentID string, hasParent bool) ([]*specNode, error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*specNode, 0, len(names))
	for _, name := range names {
		id := name
		if parentID != "" {
			id = parentID + "." + name
		}
		sn, err := buildSpec(id, name, cfg[name], reg, hasParent)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, nil
}

func buildSpec(id, name string, s *Spec, reg *Registry, hasParent bool) (*specNode, error) {
	if s == nil {
		return nil, configErr(id, ErrEmptySpec)
	}
	kind, ok := reg.Kind(s.Class)
	if !ok {
		return nil, configErr(id, fmt.Errorf("%w: %q", ErrUnknownClass, s.Class))
	}
	if kind.Child && !hasParent {
		return nil, configErr(id, fmt.Errorf("%w: %s", ErrNoParent, s.Class))
	}

	var kwargs map[string]any
	switch k := s.Kwargs.(type) {
	case nil:
	case map[string]any:
		kwargs = k
	default:
		return nil, configErr(id+".kwargs", fmt.Errorf("%w: got %T", ErrKwargsNotMapping, s.Kwargs))
	}

	bound := Bound{Count: s.CacheCount, Duration: seconds(s.CacheSeconds)}
	if err := bound.validate(); err != nil {
		return nil, configErr(id, err)
	}

	calc, err := kind.New(kwargs)
	if err != nil {
		return nil, configErr(id+".kwargs", err)
	}

	sn := &specNode{id: id, name: name, class: s.Class, bound: bound, calc: calc}
	if s.PeriodicSeconds < 0 {
		return nil, configErr(id+".periodic_seconds", ErrNegativeBound)
	}
	if s.PeriodicSeconds > 0 {
		sn.periodic = &Periodic{Interval: seconds(s.PeriodicSeconds), Snap: s.PeriodicSnap}
	}
	if pc, ok := calc.(periodicCalculator); ok {
		if sn.periodic != nil {
			return nil, configErr(id+".periodic_seconds", ErrPeriodicConflict)
		}
		p := pc.Periodic()
		sn.periodic = &p
	}

	for i, ps := range s.PreProcessors {
		p, err := reg.processor(ps)
		if err != nil {
			return nil, configErr(fmt.Sprintf("%s.pre_processors[%d]", id, i), err)
		}
		sn.pre = append(sn.pre, p)
	}
	for i, ps := range s.PostProcessors {
		p, err := reg.processor(ps)
		if err != nil {
			return nil, configErr(fmt.Sprintf("%s.post_processors[%d]", id, i), err)
		}
		sn.post = append(sn.post, p)
	}

	children, err := buildSpecs(s.SubFeatures, reg, id, true)
	if err != nil {
		return nil, err
	}
	sn.children = children
	for _, c := range children {
		rc, ok := c.calc.(requiringCalculator)
		if !ok {
			continue
		}
		if sn.bound, err = extend(id, c.id, sn.bound, rc.ParentRequirement()); err != nil {
			return nil, err
		}
	}
	return sn, nil
}

// extend widens a bounded cache so a child can see the history it asks for. A count bound cannot
// promise a duration of history, nor the reverse, so mixing the two is a config error.
func extend(id, child string, b Bound, r Requirement) (Bound, error) {
	switch {
	case b.Unbounded():
	case b.Count > 0 && r.Duration > 0:
		return b, configErr(id+".cache_count", fmt.Errorf("%w: %s reads %s of history", ErrBoundMismatch, child, r.Duration))
	case b.Duration > 0 && r.Count > 0:
		return b, configErr(id+".cache_seconds", fmt.Errorf("%w: %s reads %d samples", ErrBoundMismatch, child, r.Count))
	case r.Count > b.Count:
		b.Count = r.Count
	case r.Duration > b.Duration:
		b.Duration = r.Duration
	}
	return b, nil
}

func (g *Graph) place(s *specNode, parent int) int {
	cache, _ := NewCache(s.bound)
	idx := len(g.nodes)
	n := &node{
		id:       s.id,
		name:     s.name,
		class:    s.class,
		parent:   parent,
		cache:    cache,
		calc:     s.calc,
		pre:      s.pre,
		post:     s.post,
		periodic: s.periodic,
	}
	g.nodes = append(g.nodes, n)
	if _, dup := g.byID[s.id]; !dup {
		g.byID[s.id] = idx
	}
	for _, c := range s.children {
		n.children = append(n.children, g.place(c, idx))
	}
	return idx
}

// Init prepares every node against the first snapshot seen for the runner. Caches and periodic
// emission state are cleared, so a graph can be initialised again for a fresh replay.
func (g *Graph) Init(env *Env, first *models.Snapshot, selectionID int64) error {
	for _, n := range g.nodes {
		n.cache.Reset()
		n.emitted = false
		n.lastEmit = time.Time{}
		ctx := &InitContext{Env: env, First: first, SelectionID: selectionID, FeatureID: n.id}
		if err := n.calc.Init(ctx); err != nil {
			return &ComputeError{FeatureID: n.id, Err: err}
		}
	}
	g.initialized = true
	return nil
}

// Process updates every feature for the runner at runnerIndex, parents before children.
func (g *Graph) Process(snap *models.Snapshot, runnerIndex int) error {
	if !g.initialized {
		return ErrNotInitialized
	}
	if runnerIndex < 0 || runnerIndex >= len(snap.Runners) {
		return fmt.Errorf("%w: %d of %d", ErrRunnerIndex, runnerIndex, len(snap.Runners))
	}
	r := &snap.Runners[runnerIndex]
	tick := Tick{
		Snapshot:    snap,
		RunnerIndex: runnerIndex,
		Runner:      r,
		SelectionID: r.SelectionID,
		Time:        snap.Timestamp,
	}
	for _, idx := range g.roots {
		if err := g.processNode(idx, tick); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) processNode(idx int, tick Tick) error {
	n := g.nodes[idx]
	if n.parent >= 0 {
		tick.Parent = g.nodes[n.parent].cache
	} else {
		tick.Parent = nil
	}
	for _, ts := range n.sampleTimes(tick.Time) {
		t := tick
		t.Time = ts
		v, ok, err := n.calc.Compute(&t)
		if err != nil {
			return &ComputeError{FeatureID: n.id, Err: err}
		}
		n.markEmitted(ts)
		if !ok {
			continue
		}
		if v, ok = n.pre.apply(v); !ok {
			continue
		}
		n.cache.Push(v, ts)
		for _, c := range n.children {
			if err := g.processNode(c, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxCache is the longest look-back any feature in the graph needs.
func (g *Graph) MaxCache() time.Duration {
	var longest time.Duration
	for _, idx := range g.roots {
		if d := g.subtreeLookback(idx); d > longest {
			longest = d
		}
	}
	return longest
}

func (g *Graph) subtreeLookback(idx int) time.Duration {
	n := g.nodes[idx]
	lb := n.lookback()
	for _, c := range n.children {
		if d := g.subtreeLookback(c); d > lb {
			lb = d
		}
	}
	return lb
}

// IDs lists feature ids in arena order (parents before children).
func (g *Graph) IDs() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.id
	}
	return out
}

// Value returns the post-processed latest value of a feature.
func (g *Graph) Value(id string) (Value, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx].lastValue()
}

// Float returns the latest value of a numeric feature.
func (g *Graph) Float(id string) (float64, bool) {
	v, ok := g.Value(id)
	if !ok {
		return 0, false
	}
	return AsFloat(v)
}

// Cache exposes a feature's raw cache.
func (g *Graph) Cache(id string) (*Cache, error) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, id)
	}
	return g.nodes[idx].cache, nil
}

// GetData flattens every non-empty feature into id -> post-processed series.
func (g *Graph) GetData() (map[string][]Entry, error) {
	out := make(map[string][]Entry)
	for _, idx := range g.roots {
		if err := g.collect(idx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *Graph) collect(idx int, out map[string][]Entry) error {
	n := g.nodes[idx]
	if n.cache.Len() > 0 {
		if _, dup := out[n.id]; dup {
			return fmt.Errorf("%w: %s", ErrIDCollision, n.id)
		}
		series := make([]Entry, 0, n.cache.Len())
		for _, e := range n.cache.Entries() {
			if v, ok := n.post.apply(e.Value); ok {
				series = append(series, Entry{Value: v, Time: e.Time})
			}
		}
		out[n.id] = series
	}
	for _, c := range n.children {
		if err := g.collect(c, out); err != nil {
			return err
		}
	}
	return nil
}

// Simulate replays history for one runner through this graph from a clean state and returns GetData.
// History is trimmed to [start - buffer - MaxCache, end].
func (g *Graph) Simulate(history []*models.Snapshot, selectionID int64, start, end time.Time, buffer time.Duration) (map[string][]Entry, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	from := start.Add(-buffer - g.MaxCache())
	trimmed := make([]*models.Snapshot, 0, len(history))
	for _, s := range history {
		if s.Timestamp.Before(from) || s.Timestamp.After(end) {
			continue
		}
		trimmed = append(trimmed, s)
	}
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: none within [%s, %s]", ErrEmptyHistory, from.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	env := NewEnv()
	if err := g.Init(env, trimmed[0], selectionID); err != nil {
		return nil, err
	}
	for i, s := range trimmed {
		if err := env.Windows.Update(trimmed[:i+1]); err != nil {
			return nil, fmt.Errorf("simulate windows: %w", err)
		}
		idx := s.RunnerIndex(selectionID)
		if idx < 0 {
			continue
		}
		if err := g.Process(s, idx); err != nil {
			return nil, err
		}
	}
	return g.GetData()
}

// IsConfigError reports whether err came from graph construction.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
