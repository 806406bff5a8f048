package runtimeconfig

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-bot-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100555")
	t.Setenv("FORWARD_WEBHOOK_URL", "https://downstream.example/hook")

	path := filepath.Join(t.TempDir(), "runtime.json")
	store, err := NewStore(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return store, path
}

func TestStoreInitializesFromEnvironment(t *testing.T) {
	store, _ := newTestStore(t)

	notifier, err := store.Section("notifier")
	require.NoError(t, err)
	assert.Equal(t, "env-bot-token", notifier["bot_token"])
	assert.Equal(t, "-100555", notifier["chat_id"])
	assert.Equal(t, true, notifier["enabled"])

	forward, err := store.Section("forwarder")
	require.NoError(t, err)
	assert.Equal(t, "https://downstream.example/hook", forward["url"])
}

func TestStoreUpdatePersistsAcrossReload(t *testing.T) {
	store, path := newTestStore(t)

	require.NoError(t, store.UpdateSection("forwarder", map[string]any{
		"url":     "https://other.example/hook",
		"enabled": false,
	}))

	reloaded, err := NewStore(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	forward, err := reloaded.Section("forwarder")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/hook", forward["url"])
	assert.Equal(t, false, forward["enabled"])
}

func TestStoreUpdatePreservesOmittedSecret(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.UpdateSection("notifier", map[string]any{
		"chat_id": "-100999",
	}))

	notifier, err := store.Section("notifier")
	require.NoError(t, err)
	assert.Equal(t, "env-bot-token", notifier["bot_token"])
	assert.Equal(t, "-100999", notifier["chat_id"])

	// An empty secret in the update also keeps the stored value.
	require.NoError(t, store.UpdateSection("notifier", map[string]any{
		"bot_token": "",
	}))
	notifier, err = store.Section("notifier")
	require.NoError(t, err)
	assert.Equal(t, "env-bot-token", notifier["bot_token"])
}

func TestStoreUpdateStampsSection(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.UpdateSection("forwarder", map[string]any{
		"enabled": true,
	}))

	forward, err := store.Section("forwarder")
	require.NoError(t, err)
	stamp, ok := forward["updated_at"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, stamp)
	assert.NoError(t, err)

	// Untouched sections carry no stamp, and it never leaks into the
	// top-level metadata.
	notifier, err := store.Section("notifier")
	require.NoError(t, err)
	assert.NotContains(t, notifier, "updated_at")
	assert.NotContains(t, store.Masked(), "updated_at")
}

func TestStoreUpdateReplacesProvidedSecret(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.UpdateSection("notifier", map[string]any{
		"bot_token": "new-token",
	}))

	notifier, err := store.Section("notifier")
	require.NoError(t, err)
	assert.Equal(t, "new-token", notifier["bot_token"])
}

func TestStoreMaskedHidesSecrets(t *testing.T) {
	store, _ := newTestStore(t)

	masked := store.Masked()
	notifier := masked["notifier"].(map[string]any)
	assert.Equal(t, "***", notifier["bot_token"])
	assert.Equal(t, "-100555", notifier["chat_id"])
	assert.Equal(t, "environment", masked["initialized_from"])

	// Masking never mutates the stored values.
	section, err := store.Section("notifier")
	require.NoError(t, err)
	assert.Equal(t, "env-bot-token", section["bot_token"])
}

func TestStoreUnknownSection(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Section("nonsense")
	assert.Error(t, err)

	err = store.UpdateSection("nonsense", map[string]any{"x": 1})
	assert.Error(t, err)
}
