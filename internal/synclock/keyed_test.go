package synclock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	locks := New()
	key := Key("user-1", "Garmin")

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, peak)
	require.Zero(t, locks.Len(), "idle keys are dropped")
}

func TestLockAllowsDifferentKeys(t *testing.T) {
	locks := New()
	unlockA, err := locks.Lock(context.Background(), Key("user-1", "garmin"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, Key("user-2", "garmin"))
	require.NoError(t, err)
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	locks := New()
	key := Key("user-1", "garmin")
	unlock, err := locks.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	require.Zero(t, locks.Len())
}

func TestKeyNormalizesProvider(t *testing.T) {
	require.Equal(t, Key("user-1", "garmin"), Key("user-1", " Garmin "))
	require.NotEqual(t, Key("user-1", "garmin"), Key("user-2", "garmin"))
}
