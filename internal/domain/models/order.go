package models

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// Opposite returns the hedging side.
func (s Side) Opposite() Side {
	if s == SideBack {
		return SideLay
	}
	return SideBack
}

// OrderStatus mirrors the exchange order status.
type OrderStatus string

const (
	OrderPending           OrderStatus = "PENDING"
	OrderExecutable        OrderStatus = "EXECUTABLE"
	OrderExecutionComplete OrderStatus = "EXECUTION_COMPLETE"
	OrderCancelled         OrderStatus = "CANCELLED"
	OrderExpired           OrderStatus = "EXPIRED"
)

// Terminal reports whether no further matching can happen.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderExecutionComplete, OrderCancelled, OrderExpired:
		return true
	default:
		return false
	}
}

// OrderIntent is what the core asks the execution collaborator to do.
type OrderIntent struct {
	OrderID     string    `json:"order_id"`
	TradeID     string    `json:"trade_id"`
	MarketID    string    `json:"market_id"`
	SelectionID int64     `json:"selection_id"`
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Placed      time.Time `json:"placed"`
}

// OrderUpdate is execution feedback for one order.
type OrderUpdate struct {
	OrderID             string      `json:"order_id"`
	MarketID            string      `json:"market_id,omitempty"`
	SizeMatched         float64     `json:"size_matched"`
	AveragePriceMatched float64     `json:"average_price_matched"`
	Status              OrderStatus `json:"status"`
	Timestamp           time.Time   `json:"timestamp"`
}

// OrderRecord is one entry of a runner's persistent order log.
type OrderRecord struct {
	Intent              OrderIntent `json:"intent"`
	SizeMatched         float64     `json:"size_matched"`
	AveragePriceMatched float64     `json:"average_price_matched"`
	Status              OrderStatus `json:"status"`
	CancelRequested     bool        `json:"cancel_requested"`
	Updated             time.Time   `json:"updated"`
}

// Remaining returns unmatched size.
func (o *OrderRecord) Remaining() float64 {
	r := o.Intent.Size - o.SizeMatched
	if r < 0 {
		return 0
	}
	return r
}
