package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// PostgresSink stores order items in a Postgres table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(ctx context.Context, connectionString string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresSink{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) initSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS order_items (
			order_id      TEXT NOT NULL,
			sku           TEXT NOT NULL,
			date_time     TEXT NOT NULL DEFAULT '',
			buyer         TEXT NOT NULL DEFAULT '',
			platform      TEXT NOT NULL DEFAULT '',
			product_name  TEXT NOT NULL DEFAULT '',
			item_type     TEXT NOT NULL DEFAULT '',
			parent_sku    TEXT NOT NULL DEFAULT '',
			quantity      INTEGER NOT NULL DEFAULT 1,
			total_sale    NUMERIC(12,2) NOT NULL DEFAULT 0,
			shopee_status TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT '',
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (order_id, sku)
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create order_items table: %w", err)
	}
	return nil
}

// UpsertItems writes all items in a single transaction so a partial
// order never becomes visible.
func (s *PostgresSink) UpsertItems(ctx context.Context, items []shopee.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO order_items (
			order_id, sku, date_time, buyer, platform, product_name,
			item_type, parent_sku, quantity, total_sale, shopee_status, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id, sku) DO UPDATE SET
			date_time     = EXCLUDED.date_time,
			buyer         = EXCLUDED.buyer,
			platform      = EXCLUDED.platform,
			product_name  = EXCLUDED.product_name,
			item_type     = EXCLUDED.item_type,
			parent_sku    = EXCLUDED.parent_sku,
			quantity      = EXCLUDED.quantity,
			total_sale    = EXCLUDED.total_sale,
			shopee_status = EXCLUDED.shopee_status,
			status        = EXCLUDED.status,
			updated_at    = CURRENT_TIMESTAMP`

	for _, item := range items {
		_, err := tx.ExecContext(ctx, query,
			item.OrderID, item.SKU, item.DateTime, item.Buyer, item.Platform,
			item.ProductName, item.ItemType, item.ParentSKU, item.Quantity,
			item.TotalSale, item.ShopeeStatus, item.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert order item %s/%s: %w", item.OrderID, item.SKU, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order items: %w", err)
	}
	return nil
}

// GetByOrderID returns every stored line item for one order.
func (s *PostgresSink) GetByOrderID(ctx context.Context, orderID string) ([]shopee.OrderItem, error) {
	query := `
		SELECT order_id, sku, date_time, buyer, platform, product_name,
		       item_type, parent_sku, quantity, total_sale, shopee_status, status
		FROM order_items
		WHERE order_id = $1
		ORDER BY sku`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items for %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []shopee.OrderItem
	for rows.Next() {
		var item shopee.OrderItem
		err := rows.Scan(
			&item.OrderID, &item.SKU, &item.DateTime, &item.Buyer, &item.Platform,
			&item.ProductName, &item.ItemType, &item.ParentSKU, &item.Quantity,
			&item.TotalSale, &item.ShopeeStatus, &item.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order items for %s: %w", orderID, err)
	}
	return items, nil
}

func (s *PostgresSink) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close(ctx context.Context) error {
	return s.db.Close()
}

var _ OrderItemSink = (*PostgresSink)(nil)
