package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nanoclaw/internal/config"
	"github.com/harun/nanoclaw/pkg/session"
)

// storeSession writes a one-message transcript and backdates it by age.
func storeSession(t *testing.T, store *session.Store, id string, age time.Duration) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), id, session.Message{Role: session.RoleUser, Content: "hi"}))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), id+".jsonl"), stamp, stamp))
}

func testStore(t *testing.T, cfgPath string) *session.Store {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"))
	require.NoError(t, err)
	return store
}

func TestSessionsCommand(t *testing.T) {
	t.Run("list with no sessions", func(t *testing.T) {
		path := writeTestConfig(t)

		out, err := executeRoot(t, "sessions", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "No stored sessions")
	})

	t.Run("list shows stored sessions", func(t *testing.T) {
		path := writeTestConfig(t)
		store := testStore(t, path)
		storeSession(t, store, "recent", time.Minute)
		storeSession(t, store, "stale", 48*time.Hour)

		out, err := executeRoot(t, "sessions", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "LAST ACTIVE")
		assert.Contains(t, out, "recent")
		assert.Contains(t, out, "stale")
		assert.Less(t, strings.Index(out, "recent"), strings.Index(out, "stale"))
	})

	t.Run("prune removes only old sessions", func(t *testing.T) {
		path := writeTestConfig(t)
		store := testStore(t, path)
		storeSession(t, store, "recent", time.Minute)
		storeSession(t, store, "stale", 48*time.Hour)

		out, err := executeRoot(t, "sessions", "prune", "--older-than", "24h", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Pruned 1 sessions")

		infos, err := store.List()
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "recent", infos[0].ID)
	})

	t.Run("prune rejects a non-positive age", func(t *testing.T) {
		path := writeTestConfig(t)

		_, err := executeRoot(t, "sessions", "prune", "--older-than", "0s", "--config", path)
		assert.Error(t, err)
	})

	t.Run("delete removes the named session", func(t *testing.T) {
		path := writeTestConfig(t)
		store := testStore(t, path)
		storeSession(t, store, "doomed", time.Minute)

		out, err := executeRoot(t, "sessions", "delete", "doomed", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted doomed")

		_, err = store.Load(context.Background(), "doomed")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})
}

