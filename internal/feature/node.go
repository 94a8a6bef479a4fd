package feature

import (
	"time"
)

// node is one feature in a graph arena. Parent and children are arena indices.
type node struct {
	id       string
	name     string
	class    string
	parent   int
	children []int
	cache    *Cache
	calc     Calculator
	pre      pipeline
	post     pipeline
	periodic *Periodic

	emitted  bool
	lastEmit time.Time
}

// sampleTimes returns the times at which the node computes for a snapshot at ts.
// Without a periodic spec that is ts itself. With one, the first call emits once (snapped to the
// interval grid when requested) and later calls emit one sample per whole interval elapsed.
func (n *node) sampleTimes(ts time.Time) []time.Time {
	if n.periodic == nil {
		return []time.Time{ts}
	}
	iv := n.periodic.Interval
	if !n.emitted {
		first := ts
		if n.periodic.Snap {
			first = ts.Add(-time.Duration(ts.UnixNano() % int64(iv)))
		}
		return []time.Time{first}
	}
	k := int(ts.Sub(n.lastEmit) / iv)
	if k <= 0 {
		return nil
	}
	out := make([]time.Time, k)
	for i := range out {
		out[i] = n.lastEmit.Add(time.Duration(i+1) * iv)
	}
	return out
}

func (n *node) markEmitted(ts time.Time) {
	if n.periodic == nil {
		return
	}
	n.emitted = true
	n.lastEmit = ts
}

// lookback is the look-back this node alone needs.
func (n *node) lookback() time.Duration {
	lb := n.calc.Lookback()
	if d := n.cache.Bound().Duration; d > lb {
		lb = d
	}
	if n.periodic != nil && n.periodic.Interval > lb {
		lb = n.periodic.Interval
	}
	return lb
}

func (n *node) lastValue() (Value, bool) {
	e, ok := n.cache.Last()
	if !ok {
		return nil, false
	}
	return n.post.apply(e.Value)
}
