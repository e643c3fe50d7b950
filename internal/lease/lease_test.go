package lease

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNop(t *testing.T) {
	release, err := Nop{}.Acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Nop{}.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRedis_MutualExclusion needs a live server; set LEASE_TEST_REDIS_ADDR.
func TestRedis_MutualExclusion(t *testing.T) {
	addr := os.Getenv("LEASE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEASE_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "lease-test:" + time.Now().Format("150405.000000") + ":"
	cfg.Retry = 10 * time.Millisecond

	locker, err := NewRedis(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer locker.Close()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "author")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release(context.Background()))
			assert.NoError(t, release(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	release, err := locker.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, release(context.Background()))
}
