package notifier

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
)

// MaxMessageLength is the per-message character limit imposed by the
// chat API. Longer texts are split at line boundaries.
const MaxMessageLength = 4000

// Inline event-data values longer than this are elided from the
// message to keep notifications readable.
const maxInlineValueLength = 50

// FormatEvent renders a webhook event as an HTML notification. Order
// events include a second section with the assembled order details.
func FormatEvent(event *shopee.WebhookEvent, order *shopee.FormattedOrder) string {
	var b strings.Builder

	b.WriteString("<b>📦 Webhook Event</b>\n")
	fmt.Fprintf(&b, "Event: <b>%s</b> (code %d)\n", shopee.EventName(event.Code), event.Code)
	fmt.Fprintf(&b, "Shop: <code>%d</code>\n", event.ShopID)
	if event.Timestamp > 0 {
		fmt.Fprintf(&b, "Time: %s\n", time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	writeEventData(&b, event.Data)

	if order != nil {
		b.WriteString("\n<b>🛒 Order Details</b>\n")
		fmt.Fprintf(&b, "Order: <code>%s</code>\n", html.EscapeString(order.OrderSN))
		fmt.Fprintf(&b, "Status: <b>%s</b>\n", html.EscapeString(order.Status))
		fmt.Fprintf(&b, "Buyer: %s\n", html.EscapeString(order.Buyer))
		fmt.Fprintf(&b, "Total: %.2f %s\n", order.TotalAmount, html.EscapeString(order.Currency))
		if order.EscrowAmount > 0 {
			fmt.Fprintf(&b, "Net Income: %.2f %s\n", order.EscrowAmount, html.EscapeString(order.Currency))
		}
		if order.PaymentMethod != "" {
			fmt.Fprintf(&b, "Payment: %s\n", html.EscapeString(order.PaymentMethod))
		}
		if order.ShippingCarrier != "" {
			fmt.Fprintf(&b, "Carrier: %s\n", html.EscapeString(order.ShippingCarrier))
		}
		fmt.Fprintf(&b, "Items: %d\n", order.ItemCount)
		for _, item := range order.Items {
			name := item.Name
			if item.Model != "" {
				name += " (" + item.Model + ")"
			}
			fmt.Fprintf(&b, "  • %dx %s\n", item.Quantity, html.EscapeString(name))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeEventData(b *strings.Builder, data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if len(v) > maxInlineValueLength {
			continue
		}
		fmt.Fprintf(b, "%s: <code>%s</code>\n", html.EscapeString(k), html.EscapeString(v))
	}
}

// SplitMessage breaks text into chunks no longer than limit,
// preferring line boundaries. A single line longer than the limit is
// hard-split.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			flush()
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}

		need := len(line)
		if current.Len() > 0 {
			need++
		}
		if current.Len()+need > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}
