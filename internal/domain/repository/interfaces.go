package repository

import (
	"context"

	"BetPull/internal/domain/models"
)

// SnapshotStream is a live source of market snapshots.
type SnapshotStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Snapshot, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// OrderExecutor accepts order intents. Implementations must not block the caller on network I/O.
type OrderExecutor interface {
	Submit(ctx context.Context, intent models.OrderIntent) error
	Cancel(ctx context.Context, marketID, orderID string) error
}

// OrderFeedback exposes the latest known execution state per order.
type OrderFeedback interface {
	Latest(orderID string) (models.OrderUpdate, bool)
}

type Metrics interface {
	RecordSnapshot(source string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordOrder(side, action string)
	RecordMarketEvent(event string)
	RecordStateTransition(state string)
	SetActiveMarkets(n int)
}
