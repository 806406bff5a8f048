package sink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// MongoSink stores order items in a MongoDB collection, one document
// per (order_id, sku) pair.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoSink(ctx context.Context, uri string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoSink{
		client:     client,
		collection: client.Database("shopee").Collection("order_items"),
	}, nil
}

func (s *MongoSink) UpsertItems(ctx context.Context, items []shopee.OrderItem) error {
	for _, item := range items {
		filter := bson.M{"order_id": item.OrderID, "sku": item.SKU}
		doc := bson.M{
			"order_id":      item.OrderID,
			"sku":           item.SKU,
			"date_time":     item.DateTime,
			"buyer":         item.Buyer,
			"platform":      item.Platform,
			"product_name":  item.ProductName,
			"item_type":     item.ItemType,
			"parent_sku":    item.ParentSKU,
			"quantity":      item.Quantity,
			"total_sale":    item.TotalSale,
			"shopee_status": item.ShopeeStatus,
			"status":        item.Status,
		}

		opts := options.Replace().SetUpsert(true)
		if _, err := s.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
			return fmt.Errorf("failed to upsert order item %s/%s: %w", item.OrderID, item.SKU, err)
		}
	}
	return nil
}

// mongoOrderItem mirrors the stored document; shopee.OrderItem carries
// json tags only.
type mongoOrderItem struct {
	OrderID      string  `bson:"order_id"`
	DateTime     string  `bson:"date_time"`
	Buyer        string  `bson:"buyer"`
	Platform     string  `bson:"platform"`
	ProductName  string  `bson:"product_name"`
	ItemType     string  `bson:"item_type"`
	ParentSKU    string  `bson:"parent_sku"`
	SKU          string  `bson:"sku"`
	Quantity     int     `bson:"quantity"`
	TotalSale    float64 `bson:"total_sale"`
	ShopeeStatus string  `bson:"shopee_status"`
	Status       string  `bson:"status"`
}

// GetByOrderID returns every stored line item for one order.
func (s *MongoSink) GetByOrderID(ctx context.Context, orderID string) ([]shopee.OrderItem, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"order_id": orderID})
	if err != nil {
		return nil, fmt.Errorf("failed to query order items for %s: %w", orderID, err)
	}
	defer cursor.Close(ctx)

	var docs []mongoOrderItem
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode order items for %s: %w", orderID, err)
	}

	items := make([]shopee.OrderItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, shopee.OrderItem{
			OrderID:      d.OrderID,
			DateTime:     d.DateTime,
			Buyer:        d.Buyer,
			Platform:     d.Platform,
			ProductName:  d.ProductName,
			ItemType:     d.ItemType,
			ParentSKU:    d.ParentSKU,
			SKU:          d.SKU,
			Quantity:     d.Quantity,
			TotalSale:    d.TotalSale,
			ShopeeStatus: d.ShopeeStatus,
			Status:       d.Status,
		})
	}
	return items, nil
}

func (s *MongoSink) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb unreachable: %w", err)
	}
	return nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ OrderItemSink = (*MongoSink)(nil)
