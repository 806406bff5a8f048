package notifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.json")

	store, err := NewTopicStore(path)
	require.NoError(t, err)

	_, ok := store.Get(3)
	assert.False(t, ok)

	require.NoError(t, store.Put(3, 42))
	id, ok := store.Get(3)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	// A fresh store reads the persisted mapping.
	reloaded, err := NewTopicStore(path)
	require.NoError(t, err)
	id, ok = reloaded.Get(3)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestTopicStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewTopicStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	_, ok := store.Get(4)
	assert.False(t, ok)
}

func TestTopicStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	_, err := NewTopicStore(path)
	assert.Error(t, err)
}
