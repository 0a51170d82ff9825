package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_SerialisesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := k.Acquire(ctx, "sprite:1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, rel())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.Len())
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	relA, err := k.Acquire(ctx, "sprite:a")
	require.NoError(t, err)
	defer relA()

	relB, ok, err := k.TryAcquire(ctx, "sprite:b")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, relB())

	_, ok, err = k.TryAcquire(ctx, "sprite:a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyed_AcquireHonoursContext(t *testing.T) {
	k := NewKeyed()
	rel, err := k.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, rel())
	assert.ErrorIs(t, rel(), ErrNotHeld)
	assert.Zero(t, k.Len())
}

func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis lock integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	l := NewRedis(client, "fosterhub-test", time.Second)

	rel, ok, err := l.TryAcquire(ctx, "sweep")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "sweep")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rel())
	assert.ErrorIs(t, rel(), ErrNotHeld)

	rel, err = l.Acquire(ctx, "sweep")
	require.NoError(t, err)
	require.NoError(t, rel())
}
