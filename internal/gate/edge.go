// Package gate tracks boolean timing gates and their transitions.
package gate

import (
	"time"

	"BetPull/internal/domain/models"
)

// EdgeDetector remembers the two most recent boolean observations.
type EdgeDetector struct {
	prev    bool
	cur     bool
	rising  bool
	falling bool
}

// NewEdgeDetector starts with both observations set to initial.
func NewEdgeDetector(initial bool) *EdgeDetector {
	return &EdgeDetector{prev: initial, cur: initial}
}

// Update records v and reports whether it differs from the previous observation.
func (e *EdgeDetector) Update(v bool) bool {
	e.prev = e.cur
	e.cur = v
	e.rising = !e.prev && e.cur
	e.falling = e.prev && !e.cur
	return e.rising || e.falling
}

func (e *EdgeDetector) Current() bool  { return e.cur }
func (e *EdgeDetector) Previous() bool { return e.prev }
func (e *EdgeDetector) Rising() bool   { return e.rising }
func (e *EdgeDetector) Falling() bool  { return e.falling }

// Gate is an EdgeDetector driven by time-to-start.
type Gate struct {
	*EdgeDetector
	Offset time.Duration
	// InPlay makes the gate active once the market is in play regardless of time.
	InPlay bool
}

// NewGate creates a gate active from Offset before the scheduled start.
func NewGate(offset time.Duration, inPlay bool) *Gate {
	return &Gate{EdgeDetector: NewEdgeDetector(false), Offset: offset, InPlay: inPlay}
}

// Active evaluates the gate condition for s without recording it.
func (g *Gate) Active(s *models.Snapshot) bool {
	if g.InPlay && s.InPlay {
		return true
	}
	return !s.Timestamp.Before(s.MarketStartTime.Add(-g.Offset))
}

// Observe updates the detector from s and reports whether the gate changed.
func (g *Gate) Observe(s *models.Snapshot) bool {
	return g.Update(g.Active(s))
}

// Set is the three per-market gates.
type Set struct {
	FeatureStart *Gate
	TradeAllowed *Gate
	Cutoff       *Gate
}

// Offsets are seconds-before-start for each gate.
type Offsets struct {
	FeatureStart time.Duration
	TradeAllowed time.Duration
	Cutoff       time.Duration
}

// NewSet builds the gate set. The cutoff gate also fires when the market goes in play.
func NewSet(o Offsets) *Set {
	return &Set{
		FeatureStart: NewGate(o.FeatureStart, false),
		TradeAllowed: NewGate(o.TradeAllowed, false),
		Cutoff:       NewGate(o.Cutoff, true),
	}
}

// Observe updates every gate from s.
func (s *Set) Observe(snap *models.Snapshot) {
	s.FeatureStart.Observe(snap)
	s.TradeAllowed.Observe(snap)
	s.Cutoff.Observe(snap)
}
