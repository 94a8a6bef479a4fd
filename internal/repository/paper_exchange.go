package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
)

// PaperExchange fills orders locally. It is both the executor and the feedback source,
// so a paper trader never touches the network.
type PaperExchange struct {
	mu       sync.RWMutex
	orders   map[string]models.OrderUpdate
	fillRate float64
}

var (
	_ domrepo.OrderExecutor = (*PaperExchange)(nil)
	_ domrepo.OrderFeedback = (*PaperExchange)(nil)
)

// NewPaperExchange returns an exchange matching fillRate of every order's size on submit.
// A rate outside (0, 1] fills completely.
func NewPaperExchange(fillRate float64) *PaperExchange {
	if fillRate <= 0 || fillRate > 1 {
		fillRate = 1
	}
	return &PaperExchange{
		orders:   make(map[string]models.OrderUpdate),
		fillRate: fillRate,
	}
}

func (p *PaperExchange) Submit(_ context.Context, intent models.OrderIntent) error {
	if intent.OrderID == "" {
		return fmt.Errorf("paper submit: empty order id")
	}
	matched := intent.Size * p.fillRate
	status := models.OrderExecutable
	if p.fillRate == 1 {
		status = models.OrderExecutionComplete
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.orders[intent.OrderID]; dup {
		return fmt.Errorf("paper submit: duplicate order %s", intent.OrderID)
	}
	p.orders[intent.OrderID] = models.OrderUpdate{
		OrderID:             intent.OrderID,
		SizeMatched:         matched,
		AveragePriceMatched: intent.Price,
		Status:              status,
		Timestamp:           intent.Placed,
	}
	return nil
}

// Cancel lapses the unmatched part of a live order.
func (p *PaperExchange) Cancel(_ context.Context, _ string, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper cancel: unknown order %s", orderID)
	}
	if u.Status.Terminal() {
		return nil
	}
	u.Status = models.OrderCancelled
	u.Timestamp = u.Timestamp.Add(time.Millisecond)
	p.orders[orderID] = u
	return nil
}

func (p *PaperExchange) Latest(orderID string) (models.OrderUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.orders[orderID]
	return u, ok
}
