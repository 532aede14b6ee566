package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSingleHolderUnderContention(t *testing.T) {
	locker := NewMemoryLocker()
	key := Key("21CS002", "Degree")

	var acquired, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := locker.Acquire(context.Background(), key, time.Minute)
			switch {
			case err == nil:
				atomic.AddInt32(&acquired, 1)
			case errors.Is(err, ErrHeld):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), acquired)
	require.Equal(t, int32(31), rejected)
	require.True(t, locker.Held(key))
}

func TestMemoryLockerExpiryAndStaleRelease(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	key := Key("21CS002", "Degree")
	first, err := locker.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := locker.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err, "expired lease should be reclaimable")

	require.NoError(t, locker.Release(context.Background(), first))
	require.True(t, locker.Held(key), "stale holder must not release the new lease")

	require.NoError(t, locker.Release(context.Background(), second))
	require.False(t, locker.Held(key))
}

func TestRedisLocker(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	locker := NewRedisLocker(client, "test")
	ctx := context.Background()
	key := Key("21CS002", "Diploma")

	held, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	require.True(t, errors.Is(err, ErrHeld))

	require.NoError(t, locker.Release(ctx, Lease{Key: key, Token: "someone-else"}))
	require.True(t, mini.Exists("test:"+key))

	require.NoError(t, locker.Release(ctx, held))
	require.False(t, mini.Exists("test:"+key))

	_, err = locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	mini.FastForward(2 * time.Second)
	_, err = locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err, "expired redis lease should be reclaimable")
}
