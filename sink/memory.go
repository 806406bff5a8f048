package sink

import (
	"context"
	"sync"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// MemorySink keeps order items in memory. It backs local development
// runs without a database and doubles as the test sink.
type MemorySink struct {
	mu    sync.Mutex
	items map[string]shopee.OrderItem
}

func NewMemorySink() *MemorySink {
	return &MemorySink{items: map[string]shopee.OrderItem{}}
}

func (s *MemorySink) UpsertItems(ctx context.Context, items []shopee.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.items[item.OrderID+"/"+item.SKU] = item
	}
	return nil
}

// GetByOrderID returns every stored line item for one order.
func (s *MemorySink) GetByOrderID(ctx context.Context, orderID string) ([]shopee.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shopee.OrderItem
	for _, item := range s.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemorySink) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *MemorySink) Close(ctx context.Context) error {
	return nil
}

// Items returns a copy of everything stored.
func (s *MemorySink) Items() []shopee.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shopee.OrderItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

var _ OrderItemSink = (*MemorySink)(nil)
