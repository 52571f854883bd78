package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeysSortsAndDedupes(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalizeKeys([]string{"c", "a", "", "b", "a"}))
}

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), StockKey("vodka"), StockKey("lime"))
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.entries)
}

func TestLocalLockerUnlockIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

func TestLocalLockerHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalLocker().Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("BARPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BARPOS_TEST_REDIS_ADDR is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedisLocker(client, time.Second, nil)
	second := NewRedisLocker(client, time.Second, nil)
	second.retries = 2
	second.retryDelay = 10 * time.Millisecond

	key := StockKey("redis-lock-test-" + time.Now().Format("150405.000000"))
	unlock, err := first.Lock(context.Background(), key)
	require.NoError(t, err)

	_, err = second.Lock(context.Background(), key)
	assert.ErrorIs(t, err, ErrBusy)

	unlock()
	unlockSecond, err := second.Lock(context.Background(), key)
	require.NoError(t, err)
	unlockSecond()
}
