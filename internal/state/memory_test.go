package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreOptimisticSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "t1", "c1")
	require.ErrorIs(t, err, ErrNotFound)

	st := New("t1", "c1")
	st.TurnCount = 1
	require.NoError(t, store.Save(ctx, st, 0))

	stale := New("t1", "c1")
	stale.TurnCount = 1
	err = store.Save(ctx, stale, 0)
	require.ErrorIs(t, err, ErrStateConflict)

	loaded, err := store.Load(ctx, "t1", "c1")
	require.NoError(t, err)
	loaded.TurnCount = 2
	require.NoError(t, store.Save(ctx, loaded, 1))

	again, err := store.Load(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.TurnCount)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := New("t1", "c1")
	st.TurnCount = 1
	require.NoError(t, store.Save(ctx, st, 0))
	st.BotName = "mutated after save"

	loaded, err := store.Load(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, loaded.BotName)
}

func TestMemoryStoreMissingRecordWithPrevTurn(t *testing.T) {
	store := NewMemoryStore()
	st := New("t1", "c1")
	st.TurnCount = 4

	err := store.Save(context.Background(), st, 3)
	assert.True(t, errors.Is(err, ErrStateConflict))
}

func TestMemoryStoreKeysAreTenantScoped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := New("tenant-a", "shared-conv")
	a.TurnCount = 1
	a.BotName = "A"
	require.NoError(t, store.Save(ctx, a, 0))

	_, err := store.Load(ctx, "tenant-b", "shared-conv")
	require.ErrorIs(t, err, ErrNotFound)
}
