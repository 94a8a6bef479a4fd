package market

import "time"

// Summary is a read-only view of a market for the status API.
type Summary struct {
	MarketID       string          `json:"market_id"`
	LastUpdate     time.Time       `json:"last_update"`
	SecondsToStart float64         `json:"seconds_to_start"`
	InPlay         bool            `json:"in_play"`
	Status         string          `json:"status"`
	FeatureStart   bool            `json:"feature_start"`
	TradeAllowed   bool            `json:"trade_allowed"`
	Cutoff         bool            `json:"cutoff"`
	Closed         bool            `json:"closed"`
	History        int             `json:"history"`
	Runners        []RunnerSummary `json:"runners"`
}

// RunnerSummary is the per-selection part of a Summary.
type RunnerSummary struct {
	SelectionID int64              `json:"selection_id"`
	State       string             `json:"state"`
	Pending     []string           `json:"pending,omitempty"`
	TradeID     string             `json:"trade_id,omitempty"`
	Orders      int                `json:"orders"`
	Features    map[string]float64 `json:"features,omitempty"`
}

// Summary snapshots the handler state.
func (h *Handler) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Summary{
		MarketID:     h.MarketID,
		FeatureStart: h.gates.FeatureStart.Current(),
		TradeAllowed: h.gates.TradeAllowed.Current(),
		Cutoff:       h.gates.Cutoff.Current(),
		Closed:       h.closed,
		History:      len(h.history),
	}
	if h.last != nil {
		s.LastUpdate = h.last.Timestamp
		s.SecondsToStart = h.last.SecondsToStart()
		s.InPlay = h.last.InPlay
		s.Status = string(h.last.Status)
	}
	for _, id := range h.order {
		r, ok := h.runners[id]
		if !ok {
			continue
		}
		rs := RunnerSummary{
			SelectionID: id,
			State:       string(r.Trader.State()),
			Orders:      len(r.Trader.Orders()),
			Features:    make(map[string]float64),
		}
		for _, p := range r.Trader.Pending() {
			rs.Pending = append(rs.Pending, string(p))
		}
		if t := r.Trader.Trade(); t != nil {
			rs.TradeID = t.ID
		}
		for _, fid := range r.Graph.IDs() {
			if v, ok := r.Graph.Float(fid); ok {
				rs.Features[fid] = v
			}
		}
		s.Runners = append(s.Runners, rs)
	}
	return s
}
