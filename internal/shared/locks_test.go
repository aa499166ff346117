package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Minute)
	ctx := context.Background()
	key := PaymentLockKey("ap_payment", 7)
	require.Equal(t, "finance:ap_payment:7:lock", key)

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key)
	require.True(t, errors.Is(err, ErrConflict))

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))

	release, err = locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Second)
	ctx := context.Background()
	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("k"))
	require.NoError(t, mr.Set("k", "someone-else"))

	require.NoError(t, release(ctx))
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
