package max

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_LoadCreatesDeviceID(t *testing.T) {
	store, err := OpenSessionStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	first, err := store.Load(ctx, "+79990001122")
	require.NoError(t, err)
	assert.NotEmpty(t, first.DeviceID)
	assert.Empty(t, first.Token)

	again, err := store.Load(ctx, "+79990001122")
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, again.DeviceID, "device id must be stable")
}

func TestSessionStore_TokenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenSessionStore(dir)
	require.NoError(t, err)
	sess, err := store.Load(ctx, "+7000")
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(ctx, "+7000", "tok-1"))
	require.NoError(t, store.Close())

	store, err = OpenSessionStore(dir)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(ctx, "+7000")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, sess.DeviceID, got.DeviceID)

	require.NoError(t, store.ClearToken(ctx, "+7000"))
	got, err = store.Load(ctx, "+7000")
	require.NoError(t, err)
	assert.Empty(t, got.Token)
}

func TestSessionStore_SaveTokenUnknownPhone(t *testing.T) {
	store, err := OpenSessionStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	assert.Error(t, store.SaveToken(context.Background(), "+1", "tok"))
}
