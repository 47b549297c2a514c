package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*Keyed)(nil)
	_ Locker = (*Redis)(nil)
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
		counter int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, DealKey("a"))
			require.NoError(t, err)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			counter++
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
	assert.Zero(t, k.size())
}

func TestKeyedDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, DealKey("a"))
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := k.Lock(ctx, DealKey("b"))
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
}

func TestKeyedLockRespectsContext(t *testing.T) {
	k := NewKeyed()

	unlock, err := k.Lock(context.Background(), "deal:x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "deal:x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	// повторный unlock ничего не ломает
	unlock()
	assert.Zero(t, k.size())

	unlock, err = k.Lock(context.Background(), "deal:x")
	require.NoError(t, err)
	unlock()
}

func TestDealKey(t *testing.T) {
	assert.Equal(t, "deal:42", DealKey("42"))
}

func TestLockerThroughInterface(t *testing.T) {
	var l Locker = NewKeyed()
	unlock, err := l.Lock(context.Background(), DealKey("7"))
	require.NoError(t, err)
	unlock()

	unlock, err = l.Lock(context.Background(), DealKey("7"))
	require.NoError(t, err)
	unlock()
}
