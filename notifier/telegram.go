package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramClient talks to the Bot API. Sends are short-lived; slow
// responses are treated as failures and retried by the queue.
type TelegramClient struct {
	botToken string
	chatID   string
	baseURL  string
	httpc    *http.Client
	logger   *slog.Logger
}

func NewTelegramClient(botToken, chatID string, logger *slog.Logger) *TelegramClient {
	return &TelegramClient{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPIBase,
		httpc:    &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// APIError is a Bot API rejection carrying the HTTP status. A 4xx
// means the request itself is wrong and a retry cannot fix it; 5xx and
// transport failures stay retryable.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s rejected (%d): %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// SendMessage delivers one HTML-formatted message. A non-zero
// threadID posts into the corresponding forum topic.
func (c *TelegramClient) SendMessage(ctx context.Context, text string, threadID int64) error {
	payload := map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if threadID != 0 {
		payload["message_thread_id"] = threadID
	}

	_, err := c.call(ctx, "sendMessage", payload)
	return err
}

// CreateForumTopic creates a forum topic in the chat and returns its
// thread ID.
func (c *TelegramClient) CreateForumTopic(ctx context.Context, name string) (int64, error) {
	raw, err := c.call(ctx, "createForumTopic", map[string]any{
		"chat_id": c.chatID,
		"name":    name,
	})
	if err != nil {
		return 0, err
	}

	var result struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("failed to decode createForumTopic result: %w", err)
	}
	if result.MessageThreadID == 0 {
		return 0, fmt.Errorf("createForumTopic returned no thread id")
	}
	return result.MessageThreadID, nil
}

func (c *TelegramClient) call(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !decoded.OK {
		return nil, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Description: decoded.Description,
		}
	}
	return decoded.Result, nil
}
