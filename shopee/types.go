package shopee

import "encoding/json"

// Webhook event codes pushed by the platform.
const (
	CodeOrderStatusUpdate   = 3
	CodeTrackingNumberReady = 4
	CodeReservedStockChange = 8
)

// OrderEventCodes are the codes that carry an order serial number and
// trigger order assembly.
var OrderEventCodes = map[int]bool{
	CodeOrderStatusUpdate:   true,
	CodeTrackingNumberReady: true,
}

// IgnoreStatuses lists order statuses that are acknowledged but never
// persisted or synced.
var IgnoreStatuses = map[string]bool{
	"UNPAID": true,
}

// EventName returns a human readable name for a webhook event code.
func EventName(code int) string {
	switch code {
	case CodeOrderStatusUpdate:
		return "Order Status Update"
	case CodeTrackingNumberReady:
		return "Order Tracking Number"
	case CodeReservedStockChange:
		return "Reserved Stock Change"
	default:
		return "Unknown Event"
	}
}

// WebhookEvent is the decoded push payload.
type WebhookEvent struct {
	Code      int             `json:"code"`
	ShopID    int64           `json:"shop_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventData is the order-bearing portion of an event's data field.
type EventData struct {
	OrderSN string `json:"ordersn"`
	Status  string `json:"status"`
}

// OrderData decodes the event's data field. Events without order data
// return the zero value.
func (e *WebhookEvent) OrderData() EventData {
	var d EventData
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &d)
	}
	return d
}

// RecipientAddress is the delivery address on an order.
type RecipientAddress struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	FullAddress string `json:"full_address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zipcode     string `json:"zipcode"`
}

// OrderDetailItem is a single line item on an order.
type OrderDetailItem struct {
	ItemName               string  `json:"item_name"`
	ItemSKU                string  `json:"item_sku"`
	ModelName              string  `json:"model_name"`
	ModelSKU               string  `json:"model_sku"`
	ModelQuantityPurchased int     `json:"model_quantity_purchased"`
	ModelOriginalPrice     float64 `json:"model_original_price"`
	ModelDiscountedPrice   float64 `json:"model_discounted_price"`
}

// OrderDetail is the upstream order detail record.
type OrderDetail struct {
	OrderSN          string            `json:"order_sn"`
	OrderStatus      string            `json:"order_status"`
	BuyerUsername    string            `json:"buyer_username"`
	CreateTime       int64             `json:"create_time"`
	UpdateTime       int64             `json:"update_time"`
	TotalAmount      float64           `json:"total_amount"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"payment_method"`
	ShippingCarrier  string            `json:"shipping_carrier"`
	RecipientAddress RecipientAddress  `json:"recipient_address"`
	ItemList         []OrderDetailItem `json:"item_list"`
}

// EscrowItem is a settlement line item. SellingPrice is the settled
// amount for the whole line, quantity included.
type EscrowItem struct {
	ItemSKU      string  `json:"item_sku"`
	ModelSKU     string  `json:"model_sku"`
	SellingPrice float64 `json:"selling_price"`
}

// OrderIncome carries the settlement figures for an order.
type OrderIncome struct {
	EscrowAmount                float64      `json:"escrow_amount"`
	EscrowAmountAfterAdjustment float64      `json:"escrow_amount_after_adjustment"`
	Items                       []EscrowItem `json:"items"`
}

// EscrowDetail is the upstream escrow record for an order.
type EscrowDetail struct {
	OrderSN     string      `json:"order_sn"`
	OrderIncome OrderIncome `json:"order_income"`
}

// OrderListEntry is one row of an order list sweep.
type OrderListEntry struct {
	OrderSN     string `json:"order_sn"`
	OrderStatus string `json:"order_status"`
}

// OrderItem is the flattened per-line record written to the order item
// sink. TotalSale is the pro-rated net income for the line.
type OrderItem struct {
	OrderID      string  `json:"order_id"`
	DateTime     string  `json:"date_time"`
	Buyer        string  `json:"buyer"`
	Platform     string  `json:"platform"`
	ProductName  string  `json:"product_name"`
	ItemType     string  `json:"item_type"`
	ParentSKU    string  `json:"parent_sku"`
	SKU          string  `json:"sku"`
	Quantity     int     `json:"quantity"`
	TotalSale    float64 `json:"total_sale"`
	ShopeeStatus string  `json:"shopee_status"`
	Status       string  `json:"status"`
}

// FormattedItem is a display line for notification messages.
type FormattedItem struct {
	Name     string  `json:"name"`
	Model    string  `json:"model"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// FormattedOrder is the display view of an order used by the notifier.
type FormattedOrder struct {
	OrderSN          string          `json:"order_sn"`
	Status           string          `json:"status"`
	Buyer            string          `json:"buyer"`
	CreateTime       string          `json:"create_time"`
	UpdateTime       string          `json:"update_time"`
	TotalAmount      float64         `json:"total_amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"payment_method"`
	ShippingCarrier  string          `json:"shipping_carrier"`
	RecipientName    string          `json:"recipient_name"`
	RecipientPhone   string          `json:"recipient_phone"`
	RecipientAddress string          `json:"recipient_address"`
	EscrowAmount     float64         `json:"escrow_amount"`
	ItemCount        int             `json:"item_count"`
	Items            []FormattedItem `json:"items"`
}
