package models

import "time"

// MarketStatus is the exchange-reported lifecycle status of a market.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketSuspended MarketStatus = "SUSPENDED"
	MarketClosed    MarketStatus = "CLOSED"
)

// PriceSize is one rung of a ladder.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// RunnerSnapshot is one runner's view inside a market snapshot.
// Back and Lay are ordered best-first. TradedVolume holds cumulative matched size per price.
// A zero LastTradedPrice means the runner has not traded yet.
type RunnerSnapshot struct {
	SelectionID     int64       `json:"selection_id"`
	Back            []PriceSize `json:"back"`
	Lay             []PriceSize `json:"lay"`
	LastTradedPrice float64     `json:"ltp,omitempty"`
	TradedVolume    []PriceSize `json:"traded_volume"`
	TotalMatched    float64     `json:"total_matched,omitempty"`
}

// BestBack returns the back rung at level (0 = best).
func (r *RunnerSnapshot) BestBack(level int) (PriceSize, bool) {
	if level < 0 || level >= len(r.Back) {
		return PriceSize{}, false
	}
	return r.Back[level], true
}

// BestLay returns the lay rung at level (0 = best).
func (r *RunnerSnapshot) BestLay(level int) (PriceSize, bool) {
	if level < 0 || level >= len(r.Lay) {
		return PriceSize{}, false
	}
	return r.Lay[level], true
}

// HasLTP reports whether a last traded price is known.
func (r *RunnerSnapshot) HasLTP() bool { return r.LastTradedPrice > 0 }

// Snapshot is one timestamped full-ladder observation of a market.
type Snapshot struct {
	MarketID        string           `json:"market_id"`
	Timestamp       time.Time        `json:"timestamp"`
	MarketStartTime time.Time        `json:"market_start_time"`
	InPlay          bool             `json:"in_play"`
	Status          MarketStatus     `json:"status"`
	Runners         []RunnerSnapshot `json:"runners"`
}

// RunnerIndex returns the position of selectionID in Runners, or -1.
func (s *Snapshot) RunnerIndex(selectionID int64) int {
	for i := range s.Runners {
		if s.Runners[i].SelectionID == selectionID {
			return i
		}
	}
	return -1
}

// SecondsToStart returns the seconds remaining until the scheduled start (negative once past it).
func (s *Snapshot) SecondsToStart() float64 {
	return s.MarketStartTime.Sub(s.Timestamp).Seconds()
}

// IsClosed reports whether the exchange marked the market closed.
func (s *Snapshot) IsClosed() bool { return s.Status == MarketClosed }
