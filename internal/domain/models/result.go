package models

import "time"

// FeaturePoint is one sample of an exported feature series.
type FeaturePoint struct {
	Time  time.Time `json:"time"`
	Value any       `json:"value"`
}

// RunnerResult is everything handed to persistence for one runner when its market closes.
type RunnerResult struct {
	MarketID    string                    `json:"market_id"`
	SelectionID int64                     `json:"selection_id"`
	Features    map[string][]FeaturePoint `json:"features"`
	Orders      []OrderRecord             `json:"orders"`
	ClosedAt    time.Time                 `json:"closed_at"`
}
