package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Load(ctx, "t1", "c1")
	require.ErrorIs(t, err, ErrNotFound)

	st := New("t1", "c1")
	st.TurnCount = 1
	st.AllowedLanguages = []string{"en", "sw"}
	st.RequestID = "req-not-persisted"
	require.NoError(t, store.Save(ctx, st, 0))

	loaded, err := store.Load(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "sw"}, loaded.AllowedLanguages)
	assert.Empty(t, loaded.RequestID)
	assert.Equal(t, time.Hour, mr.TTL(redisKey("t1", "c1")))
}

func TestRedisStoreDetectsStaleTurn(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	first := New("t1", "c1")
	first.TurnCount = 1
	require.NoError(t, store.Save(ctx, first, 0))

	second := first.Clone()
	second.TurnCount = 2
	require.NoError(t, store.Save(ctx, second, 1))

	stale := first.Clone()
	stale.TurnCount = 2
	err := store.Save(ctx, stale, 1)
	require.ErrorIs(t, err, ErrStateConflict)

	err = store.Save(ctx, New("t1", "c1"), 0)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestRedisStoreRejectsForeignTenantRecord(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, 0)

	require.NoError(t, mr.Set(redisKey("t1", "c1"), `{"tenant_id":"t2","conversation_id":"c1","turn_count":1}`))

	_, err := store.Load(context.Background(), "t1", "c1")
	require.ErrorIs(t, err, ErrTenantMismatch)
}

func TestRedisLockerExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisLocker(client, "concierge:")
	locker.poll = 5 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), "t1:c1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "t1:c1", time.Minute)
	require.ErrorIs(t, err, ErrLockAcquire)

	require.NoError(t, unlock(context.Background()))

	unlock2, err := locker.Lock(context.Background(), "t1:c1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(context.Background()))
}
