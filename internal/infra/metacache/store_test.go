package metacache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "meta", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openStore(t)

	tools := []domain.ToolDefinition{
		{Name: "github:create_issue", Description: "[github] Create an issue", Origin: domain.OriginExternal},
		{Name: "github:list_repos", Origin: domain.OriginExternal},
	}
	require.NoError(t, store.PutTools("github", tools))

	got, ok, err := store.GetTools("github")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tools, got)

	_, ok, err = store.GetTools("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreDelete(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutTools("fs", []domain.ToolDefinition{{Name: "fs:read"}}))
	require.NoError(t, store.Delete("fs"))

	_, ok, err := store.GetTools("fs")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreServers(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutTools("a", nil))
	require.NoError(t, store.PutTools("b", nil))

	names, err := store.Servers()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}
