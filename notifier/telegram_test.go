package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *TelegramClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewTelegramClient("test-token", "-100123", testLogger())
	c.baseURL = srv.URL
	return c
}

func TestTelegramSendMessage(t *testing.T) {
	var got map[string]any
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	})

	require.NoError(t, c.SendMessage(context.Background(), "<b>hi</b>", 55))

	assert.Equal(t, "-100123", got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, float64(55), got["message_thread_id"])
}

func TestTelegramSendMessageMainThreadOmitsThreadID(t *testing.T) {
	var got map[string]any
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	})

	require.NoError(t, c.SendMessage(context.Background(), "hi", 0))
	_, present := got["message_thread_id"]
	assert.False(t, present)
}

func TestTelegramSendMessageRejected(t *testing.T) {
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	})

	err := c.SendMessage(context.Background(), "hi", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.True(t, apiErr.Permanent())
}

func TestTelegramServerErrorIsRetryable(t *testing.T) {
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"ok":false,"description":"Bad Gateway"}`)
	})

	err := c.SendMessage(context.Background(), "hi", 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Permanent())
}

func TestTelegramCreateForumTopic(t *testing.T) {
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/createForumTopic", r.URL.Path)
		fmt.Fprint(w, `{"ok":true,"result":{"message_thread_id":777}}`)
	})

	id, err := c.CreateForumTopic(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
}

func TestTelegramCreateForumTopicMissingThreadID(t *testing.T) {
	c := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	})

	_, err := c.CreateForumTopic(context.Background(), "3")
	assert.Error(t, err)
}
