package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	pkgkafka "BetPull/pkg/kafka"
)

// StatusBook holds the latest execution update per order id. Older updates never replace newer ones.
type StatusBook struct {
	mu       sync.RWMutex
	updates  map[string]models.OrderUpdate
	byMarket map[string][]string
}

var _ domrepo.OrderFeedback = (*StatusBook)(nil)

func NewStatusBook() *StatusBook {
	return &StatusBook{
		updates:  make(map[string]models.OrderUpdate),
		byMarket: make(map[string][]string),
	}
}

// Put stores u unless a newer update for the same order is already held.
func (b *StatusBook) Put(u models.OrderUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.updates[u.OrderID]
	if ok && (cur.Status.Terminal() || u.Timestamp.Before(cur.Timestamp)) {
		return false
	}
	if u.MarketID == "" {
		u.MarketID = cur.MarketID
	} else if cur.MarketID == "" {
		b.byMarket[u.MarketID] = append(b.byMarket[u.MarketID], u.OrderID)
	}
	b.updates[u.OrderID] = u
	return true
}

func (b *StatusBook) Latest(orderID string) (models.OrderUpdate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.updates[orderID]
	return u, ok
}

// Forget drops every update of a market. Updates published without a market id stay until restart.
func (b *StatusBook) Forget(marketID string) {
	b.mu.Lock()
	for _, id := range b.byMarket[marketID] {
		delete(b.updates, id)
	}
	delete(b.byMarket, marketID)
	b.mu.Unlock()
}

func (b *StatusBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.updates)
}

// KafkaOrderUpdateHandler feeds exchange order updates into a StatusBook.
type KafkaOrderUpdateHandler struct {
	topic   string
	book    *StatusBook
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaOrderUpdateHandler)(nil)

func NewKafkaOrderUpdateHandler(topic string, book *StatusBook, metrics domrepo.Metrics) *KafkaOrderUpdateHandler {
	return &KafkaOrderUpdateHandler{topic: topic, book: book, metrics: metrics}
}

func (h *KafkaOrderUpdateHandler) Topic() string { return h.topic }

// Handle accepts a single update or a JSON array of updates.
func (h *KafkaOrderUpdateHandler) Handle(_ context.Context, b []byte) error {
	var batch []models.OrderUpdate
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &batch); err != nil {
			h.metrics.RecordError("order_update_unmarshal")
			return err
		}
	} else {
		var u models.OrderUpdate
		if err := json.Unmarshal(b, &u); err != nil {
			h.metrics.RecordError("order_update_unmarshal")
			return err
		}
		batch = append(batch, u)
	}

	for _, u := range batch {
		if u.OrderID == "" {
			h.metrics.RecordError("order_update_invalid")
			return fmt.Errorf("order update without order_id")
		}
		h.book.Put(u)
	}
	return nil
}
