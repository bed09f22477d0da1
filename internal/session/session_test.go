package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatmem/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(context.Background(), st, "system prompt")
	require.NoError(t, err)
	return m
}

func TestNewManager_StartsWithActiveSession(t *testing.T) {
	m := newTestManager(t)
	require.NotEmpty(t, m.Active())
}

func TestSwitch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first := m.Active()
	second, err := m.NewSession(ctx)
	require.NoError(t, err)
	require.Equal(t, second, m.Active())

	require.NoError(t, m.Switch(ctx, first))
	require.Equal(t, first, m.Active())

	require.Error(t, m.Switch(ctx, "no-such-conversation"))
	require.Equal(t, first, m.Active())
}

func TestDelete_ActiveSessionGetsReplacement(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	active := m.Active()
	replacement, err := m.Delete(ctx, active)
	require.NoError(t, err)
	require.NotEmpty(t, replacement)
	require.NotEqual(t, active, replacement)
	require.Equal(t, replacement, m.Active())
}

func TestDelete_OtherSessionKeepsActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	other := m.Active()
	current, err := m.NewSession(ctx)
	require.NoError(t, err)

	replacement, err := m.Delete(ctx, other)
	require.NoError(t, err)
	require.Empty(t, replacement)
	require.Equal(t, current, m.Active())
}

func TestList(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.NewSession(ctx)
	require.NoError(t, err)

	convs, err := m.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, m.Active(), convs[0].ID)
}
