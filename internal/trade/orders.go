package trade

import (
	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
)

// OrderTracker keeps a runner's order log and folds execution feedback into it.
type OrderTracker struct {
	feedback domrepo.OrderFeedback
	records  map[string]*models.OrderRecord
	order    []string
}

// NewOrderTracker creates a tracker reading feedback from fb.
func NewOrderTracker(fb domrepo.OrderFeedback) *OrderTracker {
	return &OrderTracker{feedback: fb, records: make(map[string]*models.OrderRecord)}
}

// Add records a newly submitted order.
func (t *OrderTracker) Add(intent models.OrderIntent) *models.OrderRecord {
	rec := &models.OrderRecord{Intent: intent, Status: models.OrderPending, Updated: intent.Placed}
	t.records[intent.OrderID] = rec
	t.order = append(t.order, intent.OrderID)
	return rec
}

// Get returns the record for an order id.
func (t *OrderTracker) Get(orderID string) (*models.OrderRecord, bool) {
	r, ok := t.records[orderID]
	return r, ok
}

// Apply folds one update into its record. Stale and unknown updates are ignored.
func (t *OrderTracker) Apply(u models.OrderUpdate) bool {
	r, ok := t.records[u.OrderID]
	if !ok || r.Status.Terminal() {
		return false
	}
	if !u.Timestamp.IsZero() && u.Timestamp.Before(r.Updated) {
		return false
	}
	if u.SizeMatched == r.SizeMatched && u.Status == r.Status {
		return false
	}
	r.SizeMatched = u.SizeMatched
	r.AveragePriceMatched = u.AveragePriceMatched
	if u.Status != "" {
		r.Status = u.Status
	}
	if !u.Timestamp.IsZero() {
		r.Updated = u.Timestamp
	}
	return true
}

// Update polls feedback for every live order and returns how many records changed.
func (t *OrderTracker) Update() int {
	if t.feedback == nil {
		return 0
	}
	n := 0
	for _, id := range t.order {
		r := t.records[id]
		if r.Status.Terminal() {
			continue
		}
		if u, ok := t.feedback.Latest(id); ok && t.Apply(u) {
			n++
		}
	}
	return n
}

// AllTerminal reports whether every listed order is finished.
func (t *OrderTracker) AllTerminal(ids []string) bool {
	for _, id := range ids {
		if r, ok := t.records[id]; ok && !r.Status.Terminal() {
			return false
		}
	}
	return true
}

// Live returns ids among ids that can still match.
func (t *OrderTracker) Live(ids []string) []string {
	var out []string
	for _, id := range ids {
		if r, ok := t.records[id]; ok && !r.Status.Terminal() {
			out = append(out, id)
		}
	}
	return out
}

// Exposure sums matched size and size*price over the listed orders.
func (t *OrderTracker) Exposure(ids []string) (size, notional float64) {
	for _, id := range ids {
		r, ok := t.records[id]
		if !ok {
			continue
		}
		size += r.SizeMatched
		notional += r.SizeMatched * r.AveragePriceMatched
	}
	return size, notional
}

// MarkCancelRequested flags an order as being cancelled.
func (t *OrderTracker) MarkCancelRequested(orderID string) {
	if r, ok := t.records[orderID]; ok {
		r.CancelRequested = true
	}
}

// Log returns a copy of the order log in submission order.
func (t *OrderTracker) Log() []models.OrderRecord {
	out := make([]models.OrderRecord, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.records[id])
	}
	return out
}
