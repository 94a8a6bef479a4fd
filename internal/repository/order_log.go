package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/pkg/cache"
)

// CacheOrderLog stores each runner's order log as one JSON value under orders:<market>:<selection>,
// plus a per-market set of selections that have a log.
type CacheOrderLog struct {
	c   cache.Service
	ttl time.Duration
}

var _ domrepo.OrderLog = (*CacheOrderLog)(nil)

func NewCacheOrderLog(c cache.Service, ttl time.Duration) *CacheOrderLog {
	return &CacheOrderLog{c: c, ttl: ttl}
}

func ordersKey(marketID string, selectionID int64) string {
	return cache.GenerateKey("orders", marketID, selectionID)
}

func indexKey(marketID string) string {
	return cache.GenerateKey("orders", marketID, "index")
}

func (l *CacheOrderLog) SaveOrders(ctx context.Context, marketID string, selectionID int64, orders []models.OrderRecord) error {
	if err := l.c.Set(ctx, ordersKey(marketID, selectionID), orders, l.ttl); err != nil {
		return fmt.Errorf("save orders %s/%d: %w", marketID, selectionID, err)
	}
	if err := l.c.SAdd(ctx, indexKey(marketID), l.ttl, strconv.FormatInt(selectionID, 10)); err != nil {
		return fmt.Errorf("index orders %s/%d: %w", marketID, selectionID, err)
	}
	return nil
}

// LoadOrders returns nil without error when nothing was saved.
func (l *CacheOrderLog) LoadOrders(ctx context.Context, marketID string, selectionID int64) ([]models.OrderRecord, error) {
	var orders []models.OrderRecord
	if err := l.c.Get(ctx, ordersKey(marketID, selectionID), &orders); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load orders %s/%d: %w", marketID, selectionID, err)
	}
	return orders, nil
}

// LoadMarket returns every saved runner log of a market keyed by selection id.
func (l *CacheOrderLog) LoadMarket(ctx context.Context, marketID string) (map[int64][]models.OrderRecord, error) {
	members, err := l.c.SMembers(ctx, indexKey(marketID))
	if err != nil {
		return nil, fmt.Errorf("read order index %s: %w", marketID, err)
	}

	ids := make([]int64, 0, len(members))
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		keys = append(keys, ordersKey(marketID, id))
	}
	logs, err := cache.MGetTyped[[]models.OrderRecord](ctx, l.c, keys...)
	if err != nil {
		return nil, fmt.Errorf("load market orders %s: %w", marketID, err)
	}

	out := make(map[int64][]models.OrderRecord, len(logs))
	for i, id := range ids {
		if recs, ok := logs[keys[i]]; ok {
			out[id] = recs
		}
	}
	return out, nil
}
