package models

// Requests for the market status endpoints.

type ListMarketsRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=open closed"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type MarketRequest struct {
	MarketID string `param:"id" json:"market_id" validate:"required"`
}

type RunnerRequest struct {
	MarketID    string `param:"id" json:"market_id" validate:"required"`
	SelectionID int64  `param:"selection_id" json:"selection_id" validate:"gt=0"`
}
