package shopee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	mu           sync.Mutex
	refreshCalls int32
	lastQuery    map[string]string

	refreshResponse string
	detailResponse  string
	escrowResponse  string
	listResponses   []string
	listCall        int
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/access_token/get", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.refreshCalls, 1)
		fmt.Fprint(w, f.refreshResponse)
	})
	mux.HandleFunc("GET /api/v2/order/get_order_detail", func(w http.ResponseWriter, r *http.Request) {
		f.captureQuery(r)
		fmt.Fprint(w, f.detailResponse)
	})
	mux.HandleFunc("GET /api/v2/payment/get_escrow_detail", func(w http.ResponseWriter, r *http.Request) {
		f.captureQuery(r)
		fmt.Fprint(w, f.escrowResponse)
	})
	mux.HandleFunc("GET /api/v2/order/get_order_list", func(w http.ResponseWriter, r *http.Request) {
		f.captureQuery(r)
		f.mu.Lock()
		i := f.listCall
		if i >= len(f.listResponses) {
			i = len(f.listResponses) - 1
		}
		f.listCall++
		f.mu.Unlock()
		fmt.Fprint(w, f.listResponses[i])
	})
	return mux
}

func (f *fakeUpstream) captureQuery(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = map[string]string{}
	for k, vs := range r.URL.Query() {
		f.lastQuery[k] = vs[0]
	}
}

func (f *fakeUpstream) query(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery[key]
}

func newTestClient(t *testing.T, upstream *fakeUpstream, validToken bool) (*Client, *FileTokenStore) {
	t.Helper()
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	store := NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	expiresAt := time.Now().Unix()
	if validToken {
		expiresAt = time.Now().Add(time.Hour).Unix()
	}
	require.NoError(t, store.Save(Tokens{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    float64(expiresAt),
	}))

	client := NewClient(ClientConfig{
		Host:       srv.URL,
		PartnerID:  100500,
		PartnerKey: "test-partner-key",
		ShopID:     777,
	}, store, testLogger())
	return client, store
}

func TestClientGetOrderDetail(t *testing.T) {
	up := &fakeUpstream{
		detailResponse: `{"request_id":"r1","error":"","message":"","response":{"order_list":[{"order_sn":"2506ABC","order_status":"READY_TO_SHIP","buyer_username":"buyer1"}]}}`,
	}
	client, _ := newTestClient(t, up, true)

	details, err := client.GetOrderDetail(context.Background(), []string{"2506ABC", "2506DEF"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "2506ABC", details[0].OrderSN)

	assert.Equal(t, "2506ABC,2506DEF", up.query("order_sn_list"))
	assert.Equal(t, orderDetailOptionalFields, up.query("response_optional_fields"))
	assert.Equal(t, "100500", up.query("partner_id"))
	assert.Equal(t, "777", up.query("shop_id"))
	assert.Equal(t, "stored-access", up.query("access_token"))
	assert.NotEmpty(t, up.query("sign"))
	assert.NotEmpty(t, up.query("timestamp"))
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	up := &fakeUpstream{
		refreshResponse: `{"request_id":"r2","access_token":"fresh-access","refresh_token":"fresh-refresh","expire_in":3600}`,
		detailResponse:  `{"request_id":"r3","response":{"order_list":[]}}`,
	}
	client, store := newTestClient(t, up, false)

	_, err := client.GetOrderDetail(context.Background(), []string{"X"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&up.refreshCalls))
	assert.Equal(t, "fresh-access", up.query("access_token"))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", saved.AccessToken)
	assert.Equal(t, "fresh-refresh", saved.RefreshToken)
	assert.False(t, saved.Expired(time.Now()))
}

func TestClientRefreshSingleFlight(t *testing.T) {
	up := &fakeUpstream{
		refreshResponse: `{"access_token":"fresh-access","refresh_token":"fresh-refresh","expire_in":3600}`,
		detailResponse:  `{"response":{"order_list":[]}}`,
	}
	client, _ := newTestClient(t, up, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetOrderDetail(context.Background(), []string{"X"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&up.refreshCalls))
}

func TestClientRefreshNestedResponse(t *testing.T) {
	up := &fakeUpstream{
		refreshResponse: `{"request_id":"r4","response":{"access_token":"nested-access","refresh_token":"nested-refresh","expire_in":1800}}`,
	}
	client, _ := newTestClient(t, up, false)

	tok, err := client.RefreshAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nested-access", tok.AccessToken)
	assert.Equal(t, "nested-refresh", tok.RefreshToken)
}

func TestClientRefreshDefaultsExpireIn(t *testing.T) {
	up := &fakeUpstream{
		refreshResponse: `{"access_token":"fresh","refresh_token":""}`,
	}
	client, _ := newTestClient(t, up, false)

	before := time.Now().Unix()
	tok, err := client.RefreshAccessToken(context.Background())
	require.NoError(t, err)

	// Missing refresh_token keeps the stored one, missing expire_in
	// falls back to 7200 seconds.
	assert.Equal(t, "stored-refresh", tok.RefreshToken)
	assert.InDelta(t, float64(before+defaultExpireIn), tok.ExpiresAt, 5)
}

func TestClientSurfacesAPIError(t *testing.T) {
	up := &fakeUpstream{
		detailResponse: `{"request_id":"r5","error":"error_param","message":"order_sn_list is invalid"}`,
	}
	client, _ := newTestClient(t, up, true)

	_, err := client.GetOrderDetail(context.Background(), []string{"bad"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "error_param", apiErr.Code)
	assert.Equal(t, "r5", apiErr.RequestID)
}

func TestClientGetEscrowDetail(t *testing.T) {
	up := &fakeUpstream{
		escrowResponse: `{"response":{"order_sn":"2506ABC","order_income":{"escrow_amount":85.5,"escrow_amount_after_adjustment":84.0,"items":[{"model_sku":"SKU-1","selling_price":90.0}]}}}`,
	}
	client, _ := newTestClient(t, up, true)

	escrow, err := client.GetEscrowDetail(context.Background(), "2506ABC")
	require.NoError(t, err)
	assert.Equal(t, 85.5, escrow.OrderIncome.EscrowAmount)
	assert.Equal(t, "2506ABC", up.query("order_sn"))
}

func TestClientGetOrderListFollowsCursor(t *testing.T) {
	up := &fakeUpstream{
		listResponses: []string{
			`{"response":{"more":true,"next_cursor":"c2","order_list":[{"order_sn":"A","order_status":"SHIPPED"},{"order_sn":"B","order_status":"UNPAID"}]}}`,
			`{"response":{"more":false,"next_cursor":"","order_list":[{"order_sn":"C","order_status":"COMPLETED"}]}}`,
		},
	}
	client, _ := newTestClient(t, up, true)

	from := time.Now().Add(-2 * time.Hour)
	to := time.Now()
	entries, err := client.GetOrderList(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "C", entries[2].OrderSN)

	assert.Equal(t, "update_time", up.query("time_range_field"))
	assert.Equal(t, "c2", up.query("cursor"))
	assert.Equal(t, fmt.Sprint(from.Unix()), up.query("time_from"))
}

func TestClientSignatureBases(t *testing.T) {
	client := NewClient(ClientConfig{
		PartnerID:  1001,
		PartnerKey: "key",
		ShopID:     2002,
	}, nil, testLogger())

	// Shop-level call signs partner_id + path + ts + token + shop_id.
	withToken := client.sign("/api/v2/order/get_order_detail", 1700000000, "tok")
	expected := signBody("key", []byte("1001/api/v2/order/get_order_detail1700000000tok2002"))
	assert.Equal(t, expected, withToken)

	// The refresh call omits token and shop_id.
	refresh := client.sign("/api/v2/auth/access_token/get", 1700000000, "")
	expected = signBody("key", []byte("1001/api/v2/auth/access_token/get1700000000"))
	assert.Equal(t, expected, refresh)
}

func TestClientDecodeFailure(t *testing.T) {
	up := &fakeUpstream{detailResponse: `{broken`}
	client, _ := newTestClient(t, up, true)

	_, err := client.GetOrderDetail(context.Background(), []string{"X"})
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, json.Valid([]byte(up.detailResponse)))
	assert.NotErrorAs(t, err, &apiErr)
}
