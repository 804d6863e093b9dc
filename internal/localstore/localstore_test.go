package localstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/log"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetAndOverwrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "local.db"))

	_, ok, err := s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "darkMode", true))
	v, ok, err := s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)

	require.NoError(t, s.Set(ctx, "darkMode", false))
	v, _, err = s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	assert.ErrorIs(t, s.Set(ctx, " ", 1), ErrInvalidKey)
}

func TestAllAndClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "local.db")
	s := openTestStore(t, path)

	require.NoError(t, s.Set(ctx, "darkMode", true))
	require.NoError(t, s.Set(ctx, "language", "it"))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"darkMode": true, "language": "it"}, all)

	require.NoError(t, s.Clear(ctx))
	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPreferencesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := Open(path, log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)}))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "darkMode", true))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	v, ok, err := reopened.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)
}
