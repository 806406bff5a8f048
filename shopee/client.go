package shopee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultHost = "https://partner.shopeemobile.com"

	pathTokenRefresh   = "/api/v2/auth/access_token/get"
	pathOrderDetail    = "/api/v2/order/get_order_detail"
	pathEscrowDetail   = "/api/v2/payment/get_escrow_detail"
	pathOrderList      = "/api/v2/order/get_order_list"
	defaultExpireIn    = 7200
	requestTimeout     = 30 * time.Second
	orderListPageSize  = 100
	orderListPageLimit = 100

	orderDetailOptionalFields = "buyer_username,item_list,total_amount,order_status,order_income,create_time"
)

// APIError is an upstream-reported failure, distinct from transport
// errors. Callers use it to decide whether a retry can help.
type APIError struct {
	RequestID string
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream api error %s: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
}

// ClientConfig carries the partner credentials and endpoints.
type ClientConfig struct {
	Host       string
	PartnerID  int64
	PartnerKey string
	ShopID     int64
}

// Client is the signed upstream API client. All shop-level calls
// ensure a valid access token first; refreshes are single-flighted so
// concurrent callers never race the token endpoint.
type Client struct {
	config ClientConfig
	tokens *FileTokenStore
	httpc  *http.Client
	logger *slog.Logger

	refreshMu sync.Mutex
	now       func() time.Time
}

func NewClient(config ClientConfig, tokens *FileTokenStore, logger *slog.Logger) *Client {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	return &Client{
		config: config,
		tokens: tokens,
		httpc:  &http.Client{Timeout: requestTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// sign computes the request signature. Shop-level calls include the
// access token in the base string; the token refresh call omits it.
func (c *Client) sign(path string, ts int64, accessToken string) string {
	var base bytes.Buffer
	base.WriteString(strconv.FormatInt(c.config.PartnerID, 10))
	base.WriteString(path)
	base.WriteString(strconv.FormatInt(ts, 10))
	if accessToken != "" {
		base.WriteString(accessToken)
		base.WriteString(strconv.FormatInt(c.config.ShopID, 10))
	}

	mac := hmac.New(sha256.New, []byte(c.config.PartnerKey))
	mac.Write(base.Bytes())
	return hex.EncodeToString(mac.Sum(nil))
}

// ensureToken returns a valid access token, refreshing if the stored
// one is expired or about to expire.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	t, err := c.tokens.Load()
	if err != nil {
		return "", err
	}
	if !t.Expired(c.now()) {
		return t.AccessToken, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	t, err = c.tokens.Load()
	if err == nil && !t.Expired(c.now()) {
		return t.AccessToken, nil
	}

	refreshed, err := c.RefreshAccessToken(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new
// credential pair and persists it.
func (c *Client) RefreshAccessToken(ctx context.Context) (Tokens, error) {
	current, err := c.tokens.Load()
	if err != nil {
		return Tokens{}, fmt.Errorf("no stored tokens to refresh: %w", err)
	}

	ts := c.now().Unix()
	params := url.Values{}
	params.Set("partner_id", strconv.FormatInt(c.config.PartnerID, 10))
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("sign", c.sign(pathTokenRefresh, ts, ""))

	body, err := json.Marshal(map[string]any{
		"refresh_token": current.RefreshToken,
		"partner_id":    c.config.PartnerID,
		"shop_id":       c.config.ShopID,
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	endpoint := c.config.Host + pathTokenRefresh + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to read refresh response: %w", err)
	}

	var envelope struct {
		RequestID    string          `json:"request_id"`
		Error        string          `json:"error"`
		Message      string          `json:"message"`
		Response     json.RawMessage `json:"response"`
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		ExpireIn     int64           `json:"expire_in"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if apiErr := apiErrorFrom(envelope.RequestID, envelope.Error, envelope.Message); apiErr != nil {
		return Tokens{}, apiErr
	}

	access, refresh, expireIn := envelope.AccessToken, envelope.RefreshToken, envelope.ExpireIn
	if access == "" && len(envelope.Response) > 0 {
		// Some gateway deployments nest the payload under "response".
		var nested struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpireIn     int64  `json:"expire_in"`
		}
		if err := json.Unmarshal(envelope.Response, &nested); err == nil {
			access, refresh, expireIn = nested.AccessToken, nested.RefreshToken, nested.ExpireIn
		}
	}
	if access == "" {
		return Tokens{}, fmt.Errorf("token refresh response missing access_token (request_id=%s)", envelope.RequestID)
	}
	if refresh == "" {
		refresh = current.RefreshToken
	}
	if expireIn <= 0 {
		expireIn = defaultExpireIn
	}

	t := Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    float64(c.now().Unix() + expireIn),
	}
	if err := c.tokens.Save(t); err != nil {
		return Tokens{}, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	c.logger.Info("access token refreshed",
		slog.Int64("expire_in", expireIn),
	)
	return t, nil
}

// get performs a signed shop-level GET and decodes the response
// envelope into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	accessToken, err := c.ensureToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	ts := c.now().Unix()
	params := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("partner_id", strconv.FormatInt(c.config.PartnerID, 10))
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("access_token", accessToken)
	params.Set("shop_id", strconv.FormatInt(c.config.ShopID, 10))
	params.Set("sign", c.sign(path, ts, accessToken))

	endpoint := c.config.Host + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	var envelope struct {
		RequestID string          `json:"request_id"`
		Error     string          `json:"error"`
		Message   string          `json:"message"`
		Response  json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	if apiErr := apiErrorFrom(envelope.RequestID, envelope.Error, envelope.Message); apiErr != nil {
		return apiErr
	}

	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("failed to decode response payload from %s: %w", path, err)
		}
	}
	return nil
}

func apiErrorFrom(requestID, errCode, message string) *APIError {
	if errCode != "" || message == "error" {
		return &APIError{RequestID: requestID, Code: errCode, Message: message}
	}
	return nil
}

// GetOrderDetail fetches full detail records for up to 50 orders.
func (c *Client) GetOrderDetail(ctx context.Context, orderSNs []string) ([]OrderDetail, error) {
	if len(orderSNs) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("order_sn_list", strings.Join(orderSNs, ","))
	query.Set("response_optional_fields", orderDetailOptionalFields)

	var payload struct {
		OrderList []OrderDetail `json:"order_list"`
	}
	if err := c.get(ctx, pathOrderDetail, query, &payload); err != nil {
		return nil, err
	}
	return payload.OrderList, nil
}

// GetEscrowDetail fetches the settlement record for a single order.
func (c *Client) GetEscrowDetail(ctx context.Context, orderSN string) (*EscrowDetail, error) {
	query := url.Values{}
	query.Set("order_sn", orderSN)

	var payload EscrowDetail
	if err := c.get(ctx, pathEscrowDetail, query, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetOrderList sweeps orders updated in [from, to], following the
// cursor until the upstream reports no more pages. The page cap bounds
// runaway pagination on misbehaving responses.
func (c *Client) GetOrderList(ctx context.Context, from, to time.Time) ([]OrderListEntry, error) {
	var entries []OrderListEntry
	cursor := ""

	for page := 0; page < orderListPageLimit; page++ {
		query := url.Values{}
		query.Set("time_range_field", "update_time")
		query.Set("time_from", strconv.FormatInt(from.Unix(), 10))
		query.Set("time_to", strconv.FormatInt(to.Unix(), 10))
		query.Set("page_size", strconv.Itoa(orderListPageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var payload struct {
			More       bool             `json:"more"`
			NextCursor string           `json:"next_cursor"`
			OrderList  []OrderListEntry `json:"order_list"`
		}
		if err := c.get(ctx, pathOrderList, query, &payload); err != nil {
			return entries, err
		}

		entries = append(entries, payload.OrderList...)
		if !payload.More || payload.NextCursor == "" {
			return entries, nil
		}
		cursor = payload.NextCursor
	}

	c.logger.Warn("order list pagination hit page cap",
		slog.Int("pages", orderListPageLimit),
		slog.Int("orders", len(entries)),
	)
	return entries, nil
}
