package repository

import (
	"context"

	"BetPull/internal/domain/models"
)

// ResultStore persists per-runner results handed off at market close.
type ResultStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	SaveRunner(ctx context.Context, r *models.RunnerResult) error
	Health(ctx context.Context) error
	Close() error
}

// OrderLog keeps the order outcome log of a runner.
type OrderLog interface {
	SaveOrders(ctx context.Context, marketID string, selectionID int64, orders []models.OrderRecord) error
	LoadOrders(ctx context.Context, marketID string, selectionID int64) ([]models.OrderRecord, error)
	LoadMarket(ctx context.Context, marketID string) (map[int64][]models.OrderRecord, error)
}
