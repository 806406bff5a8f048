package shopee

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// OrderAPI is the slice of the upstream client the assembler needs.
type OrderAPI interface {
	GetOrderDetail(ctx context.Context, orderSNs []string) ([]OrderDetail, error)
	GetEscrowDetail(ctx context.Context, orderSN string) (*EscrowDetail, error)
}

// AssembledOrder bundles everything downstream consumers need: the
// raw detail, the optional escrow record, the flattened sink rows and
// the display view for notifications.
type AssembledOrder struct {
	Detail    OrderDetail
	Escrow    *EscrowDetail
	Items     []OrderItem
	Formatted FormattedOrder
}

// Assembler turns an order serial number into a complete order record
// by combining the detail and escrow endpoints.
type Assembler struct {
	api    OrderAPI
	logger *slog.Logger
}

func NewAssembler(api OrderAPI, logger *slog.Logger) *Assembler {
	return &Assembler{api: api, logger: logger}
}

// Assemble fetches detail and escrow concurrently. A missing escrow
// record degrades net-income figures to zero but is not an error; a
// missing detail record is fatal.
func (a *Assembler) Assemble(ctx context.Context, orderSN string) (*AssembledOrder, error) {
	type escrowResult struct {
		escrow *EscrowDetail
		err    error
	}
	escrowCh := make(chan escrowResult, 1)
	go func() {
		escrow, err := a.api.GetEscrowDetail(ctx, orderSN)
		escrowCh <- escrowResult{escrow, err}
	}()

	details, err := a.api.GetOrderDetail(ctx, []string{orderSN})
	escrowRes := <-escrowCh

	if err != nil {
		return nil, fmt.Errorf("failed to fetch order detail for %s: %w", orderSN, err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("order %s not found upstream", orderSN)
	}
	detail := details[0]

	escrow := escrowRes.escrow
	if escrowRes.err != nil {
		a.logger.Warn("escrow detail unavailable, net income will be zero",
			slog.String("order_sn", orderSN),
			slog.Any("error", escrowRes.err),
		)
		escrow = nil
	}

	return &AssembledOrder{
		Detail:    detail,
		Escrow:    escrow,
		Items:     BuildItems(detail, escrow),
		Formatted: FormatOrder(detail, escrow),
	}, nil
}

// BuildItems flattens an order into sink rows, distributing the escrow
// amount across lines pro rata by their settled selling price.
func BuildItems(detail OrderDetail, escrow *EscrowDetail) []OrderItem {
	var escrowAmount, totalMerch float64
	var escrowItems []EscrowItem
	if escrow != nil {
		escrowAmount = escrow.OrderIncome.EscrowAmount
		escrowItems = escrow.OrderIncome.Items
		for _, ei := range escrowItems {
			totalMerch += ei.SellingPrice
		}
	}

	dateTime := time.Unix(detail.CreateTime, 0).UTC().Format(time.RFC3339)

	items := make([]OrderItem, 0, len(detail.ItemList))
	for _, li := range detail.ItemList {
		quantity := li.ModelQuantityPurchased
		if quantity <= 0 {
			quantity = 1
		}

		items = append(items, OrderItem{
			OrderID:      detail.OrderSN,
			DateTime:     dateTime,
			Buyer:        detail.BuyerUsername,
			Platform:     "Shopee",
			ProductName:  li.ItemName,
			ItemType:     li.ModelName,
			ParentSKU:    li.ItemSKU,
			SKU:          resolveSKU(li),
			Quantity:     quantity,
			TotalSale:    netIncome(li, escrowAmount, totalMerch, escrowItems),
			ShopeeStatus: detail.OrderStatus,
			Status:       detail.OrderStatus,
		})
	}
	return items
}

// netIncome pro-rates the order's escrow amount onto a line by its
// share of the settled merchandise value. Lines with no settlement
// match contribute zero.
func netIncome(li OrderDetailItem, escrowAmount, totalMerch float64, escrowItems []EscrowItem) float64 {
	if escrowAmount == 0 || totalMerch == 0 {
		return 0
	}
	for _, ei := range escrowItems {
		if matchesEscrowItem(li, ei) {
			return round2(escrowAmount * ei.SellingPrice / totalMerch)
		}
	}
	return 0
}

func matchesEscrowItem(li OrderDetailItem, ei EscrowItem) bool {
	if ei.ModelSKU != "" && ei.ModelSKU == li.ModelSKU {
		return true
	}
	return ei.ItemSKU != "" && ei.ItemSKU == li.ItemSKU
}

func resolveSKU(li OrderDetailItem) string {
	if sku := strings.TrimSpace(li.ModelSKU); sku != "" {
		return sku
	}
	if sku := strings.TrimSpace(li.ItemSKU); sku != "" {
		return sku
	}
	return "NO_SKU_" + li.ItemName
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// FormatOrder builds the display view used in notification messages.
func FormatOrder(detail OrderDetail, escrow *EscrowDetail) FormattedOrder {
	f := FormattedOrder{
		OrderSN:          detail.OrderSN,
		Status:           detail.OrderStatus,
		Buyer:            detail.BuyerUsername,
		CreateTime:       time.Unix(detail.CreateTime, 0).UTC().Format(time.RFC3339),
		TotalAmount:      detail.TotalAmount,
		Currency:         detail.Currency,
		PaymentMethod:    detail.PaymentMethod,
		ShippingCarrier:  detail.ShippingCarrier,
		RecipientName:    detail.RecipientAddress.Name,
		RecipientPhone:   detail.RecipientAddress.Phone,
		RecipientAddress: detail.RecipientAddress.FullAddress,
		ItemCount:        len(detail.ItemList),
	}
	if detail.UpdateTime > 0 {
		f.UpdateTime = time.Unix(detail.UpdateTime, 0).UTC().Format(time.RFC3339)
	}
	if escrow != nil {
		f.EscrowAmount = escrow.OrderIncome.EscrowAmountAfterAdjustment
	}

	for _, li := range detail.ItemList {
		quantity := li.ModelQuantityPurchased
		if quantity <= 0 {
			quantity = 1
		}
		f.Items = append(f.Items, FormattedItem{
			Name:     li.ItemName,
			Model:    li.ModelName,
			Quantity: quantity,
			Price:    li.ModelDiscountedPrice,
		})
	}
	return f
}
