package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
)

func setupStore(t *testing.T, ttl time.Duration) (*CheckpointStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCheckpointStore(NewClientWithRedis(rdb), "revision:active:", ttl), mr
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := repository.WithSession(context.Background(), "s1")

	got, err := store.Retrieve(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	tl := uint64(4)
	cp := &entity.Checkpoint{ID: 9, Title: "release", TimelineID: &tl, CheckpointDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, store.Store(ctx, cp))
	assert.True(t, mr.Exists("revision:active:s1"))

	got, err = store.Retrieve(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(9), got.ID)
	assert.Equal(t, uint64(4), *got.TimelineID)
	assert.True(t, cp.CheckpointDate.Equal(got.CheckpointDate))

	// 不同会话互不可见
	other, err := store.Retrieve(repository.WithSession(context.Background(), "s2"))
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Retrieve(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointStore_Expires(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := repository.WithSession(context.Background(), "s1")

	require.NoError(t, store.Store(ctx, &entity.Checkpoint{ID: 1}))
	mr.FastForward(2 * time.Minute)

	got, err := store.Retrieve(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointStore_RetrieveExtendsExpiry(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := repository.WithSession(context.Background(), "s1")
	key := "revision:active:s1"

	require.NoError(t, store.Store(ctx, &entity.Checkpoint{ID: 1}))

	// 剩余时间过半不顺延
	mr.FastForward(10 * time.Second)
	_, err := store.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Second, mr.TTL(key))

	mr.FastForward(30 * time.Second)
	got, err := store.Retrieve(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Minute, mr.TTL(key))

	// 顺延后越过原到期时间仍可读取
	mr.FastForward(45 * time.Second)
	got, err = store.Retrieve(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCheckpointStore_RequiresSession(t *testing.T) {
	store, _ := setupStore(t, time.Minute)

	_, err := store.Retrieve(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}
