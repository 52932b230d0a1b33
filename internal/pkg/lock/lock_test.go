package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestLocker_Acquire(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(rdb, time.Minute)
	ctx := context.Background()

	l, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, l.Token(), 32)

	val, err := mr.Get(Key(7))
	require.NoError(t, err)
	assert.Equal(t, l.Token(), val)
	assert.Equal(t, time.Minute, mr.TTL(Key(7)))

	_, err = locker.Acquire(ctx, 7)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// 不同任务互不影响
	other, err := locker.Acquire(ctx, 8)
	require.NoError(t, err)
	assert.NotEqual(t, l.Token(), other.Token())
}

func TestLock_Release(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(rdb, time.Minute)
	ctx := context.Background()

	l, err := locker.Acquire(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))
	assert.False(t, mr.Exists(Key(1)))

	assert.ErrorIs(t, l.Release(ctx), ErrNotOwner)

	again, err := locker.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestLock_ReleaseAfterExpiry(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(rdb, time.Second)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	owner, err := locker.Acquire(ctx, 1)
	require.NoError(t, err)

	// 过期的持有者不能删除新持有者的锁
	assert.ErrorIs(t, stale.Release(ctx), ErrNotOwner)
	val, err := mr.Get(Key(1))
	require.NoError(t, err)
	assert.Equal(t, owner.Token(), val)

	require.NoError(t, owner.Release(ctx))
}

func TestLock_Refresh(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(rdb, 10*time.Second)
	ctx := context.Background()

	l, err := locker.Acquire(ctx, 3)
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, 10*time.Second, mr.TTL(Key(3)))

	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, l.Refresh(ctx), ErrNotOwner)
}

func TestNewLocker_DefaultTTL(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	assert.Equal(t, time.Hour, NewLocker(rdb, 0).ttl)
}
