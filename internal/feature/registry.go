package feature

import (
	"fmt"
	"sort"
	"time"

	"BetPull/internal/domain/models"
	"BetPull/internal/window"
)

// Value is a feature sample: a float64 for most features, a RegressionResult for regressions.
type Value = any

// AsFloat converts numeric samples to float64.
func AsFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Env is the per-market state shared by every feature graph of that market.
type Env struct {
	Windows *window.Manager
}

// NewEnv creates an Env with an empty window manager.
func NewEnv() *Env {
	return &Env{Windows: window.NewManager()}
}

// InitContext is handed to calculators once, against the first snapshot.
type InitContext struct {
	Env         *Env
	First       *models.Snapshot
	SelectionID int64
	FeatureID   string
}

// Tick is one calculator invocation.
type Tick struct {
	Snapshot    *models.Snapshot
	RunnerIndex int
	Runner      *models.RunnerSnapshot
	SelectionID int64
	// Time is the sample time; it differs from Snapshot.Timestamp for periodic backfill.
	Time time.Time
	// Parent is the parent's cache, nil for top-level features.
	Parent *Cache
}

// Calculator computes a node's raw value. A false second result means no value this tick.
type Calculator interface {
	Init(ctx *InitContext) error
	Compute(t *Tick) (Value, bool, error)
	// Lookback is the history span the calculator needs before its values are meaningful.
	Lookback() time.Duration
}

// Periodic declares fixed-interval emission.
type Periodic struct {
	Interval time.Duration
	Snap     bool
}

// periodicCalculator is implemented by calculators that carry their own emission clock.
type periodicCalculator interface {
	Periodic() Periodic
}

// Requirement is how much parent history a child needs cached.
type Requirement struct {
	Count    int
	Duration time.Duration
}

type requiringCalculator interface {
	ParentRequirement() Requirement
}

// Kind describes a registered feature class.
type Kind struct {
	// New builds a calculator from raw kwargs.
	New func(kwargs map[string]any) (Calculator, error)
	// Child marks classes that read their parent's cache.
	Child bool
}

// ValueProcessor transforms a value; false drops it.
type ValueProcessor interface {
	Apply(v Value) (Value, bool)
}

// ValueProcessorFunc adapts a function to ValueProcessor.
type ValueProcessorFunc func(v Value) (Value, bool)

func (f ValueProcessorFunc) Apply(v Value) (Value, bool) { return f(v) }

// Registry resolves class and processor names.
type Registry struct {
	kinds      map[string]Kind
	processors map[string]func(kwargs map[string]any) (ValueProcessor, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:      make(map[string]Kind),
		processors: make(map[string]func(map[string]any) (ValueProcessor, error)),
	}
}

// DefaultRegistry returns a registry with every built-in class and processor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBookKinds(r)
	registerChildKinds(r)
	registerProcessors(r)
	return r
}

// Register adds or replaces a class.
func (r *Registry) Register(class string, k Kind) {
	r.kinds[class] = k
}

// RegisterProcessor adds or replaces a value processor.
func (r *Registry) RegisterProcessor(name string, f func(kwargs map[string]any) (ValueProcessor, error)) {
	r.processors[name] = f
}

// Kind looks up a class.
func (r *Registry) Kind(class string) (Kind, bool) {
	k, ok := r.kinds[class]
	return k, ok
}

// Classes lists registered class names.
func (r *Registry) Classes() []string {
	out := make([]string, 0, len(r.kinds))
	for c := range r.kinds {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) processor(ps ProcessorSpec) (ValueProcessor, error) {
	f, ok := r.processors[ps.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, ps.Name)
	}
	p, err := f(ps.Kwargs)
	if err != nil {
		return nil, fmt.Errorf("processor %s: %w: %v", ps.Name, ErrInvalidKwargs, err)
	}
	return p, nil
}

// typed wraps a constructor that takes decoded kwargs of type K.
func typed[K any](build func(k *K) (Calculator, error)) func(map[string]any) (Calculator, error) {
	return func(raw map[string]any) (Calculator, error) {
		k := new(K)
		if err := decodeKwargs(raw, k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKwargs, err)
		}
		return build(k)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
