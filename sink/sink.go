package sink

import (
	"context"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// OrderItemSink persists flattened order items. Upserts are keyed by
// (order_id, sku) so repeated webhook deliveries and reconciliation
// sweeps converge on the latest state instead of duplicating rows.
type OrderItemSink interface {
	UpsertItems(ctx context.Context, items []shopee.OrderItem) error
	GetByOrderID(ctx context.Context, orderID string) ([]shopee.OrderItem, error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
