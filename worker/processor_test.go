package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKeNcHii/shopee-webhook-receiver/queue"
	"github.com/xKeNcHii/shopee-webhook-receiver/shopee"
	"github.com/xKeNcHii/shopee-webhook-receiver/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeAssembler struct {
	err      error
	status   string
	items    []shopee.OrderItem
	requests []string
}

func (f *fakeAssembler) Assemble(ctx context.Context, orderSN string) (*shopee.AssembledOrder, error) {
	f.requests = append(f.requests, orderSN)
	if f.err != nil {
		return nil, f.err
	}
	return &shopee.AssembledOrder{
		Detail: shopee.OrderDetail{OrderSN: orderSN, OrderStatus: f.status},
		Items:  f.items,
	}, nil
}

func newProcessor(assembler *fakeAssembler) (*webhookProcessor, *sink.MemorySink) {
	store := sink.NewMemorySink()
	return newWebhookProcessor(assembler, store, testLogger()), store
}

func message(payload string) *queue.Message {
	msg := queue.NewMessage([]byte(payload), 3)
	return &msg
}

func TestProcessPersistsOrderItems(t *testing.T) {
	assembler := &fakeAssembler{
		items: []shopee.OrderItem{
			{OrderID: "ORD-1", SKU: "SKU-A", Quantity: 2},
			{OrderID: "ORD-1", SKU: "SKU-B", Quantity: 1},
		},
	}
	p, store := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":3,"shop_id":1,"data":{"ordersn":"ORD-1","status":"READY_TO_SHIP"}}`,
	))

	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-1"}, assembler.requests)
	assert.Len(t, store.Items(), 2)
}

func TestProcessSkipsIgnoredStatus(t *testing.T) {
	assembler := &fakeAssembler{}
	p, store := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":3,"shop_id":1,"data":{"ordersn":"ORD-1","status":"UNPAID"}}`,
	))

	require.NoError(t, err)
	assert.Empty(t, assembler.requests)
	assert.Empty(t, store.Items())
}

func TestProcessSkipsOrderUnpaidByCurrentStatus(t *testing.T) {
	// The webhook carried a payable status, but the API says the order
	// went back to UNPAID by the time the worker picked it up.
	assembler := &fakeAssembler{
		status: "UNPAID",
		items:  []shopee.OrderItem{{OrderID: "ORD-1", SKU: "SKU-A"}},
	}
	p, store := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":3,"shop_id":1,"data":{"ordersn":"ORD-1","status":"READY_TO_SHIP"}}`,
	))

	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-1"}, assembler.requests)
	assert.Empty(t, store.Items())
}

func TestProcessSkipsNonOrderEvent(t *testing.T) {
	assembler := &fakeAssembler{}
	p, _ := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":8,"shop_id":1,"data":{"item_id":42}}`,
	))

	require.NoError(t, err)
	assert.Empty(t, assembler.requests)
}

func TestProcessFailsOnMissingOrderSN(t *testing.T) {
	p, _ := newProcessor(&fakeAssembler{})

	err := p.Process(context.Background(), message(
		`{"code":3,"shop_id":1,"data":{"status":"SHIPPED"}}`,
	))

	assert.Error(t, err)
}

func TestProcessPropagatesAssemblyFailure(t *testing.T) {
	assembler := &fakeAssembler{err: errors.New("upstream down")}
	p, _ := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":4,"shop_id":1,"data":{"ordersn":"ORD-2","status":"SHIPPED"}}`,
	))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORD-2")
}

func TestProcessDropsUndecodablePayload(t *testing.T) {
	p, _ := newProcessor(&fakeAssembler{})

	err := p.Process(context.Background(), message(`not json`))

	assert.NoError(t, err)
}

func TestProcessAcceptsOrderWithoutItems(t *testing.T) {
	assembler := &fakeAssembler{}
	p, store := newProcessor(assembler)

	err := p.Process(context.Background(), message(
		`{"code":3,"shop_id":1,"data":{"ordersn":"ORD-3","status":"COMPLETED"}}`,
	))

	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-3"}, assembler.requests)
	assert.Empty(t, store.Items())
}
