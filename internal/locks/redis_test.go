package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis хранит ключи в памяти. Скрипт разблокировки исполняется напрямую.
type fakeRedis struct {
	redis.Scripter

	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.unlock(keys[0], args[0].(string))
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.unlock(keys[0], args[0].(string))
}

func (f *fakeRedis) unlock(key, token string) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] != token {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.keys, key)
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func TestRedisLockAndUnlock(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, 5*time.Second)

	unlock, err := r.Lock(context.Background(), DealKey("1"))
	require.NoError(t, err)
	assert.True(t, fake.held(redisKeyPrefix+"deal:1"))
	assert.Equal(t, 5*time.Second, fake.ttls[redisKeyPrefix+"deal:1"])

	unlock()
	assert.False(t, fake.held(redisKeyPrefix+"deal:1"))
}

func TestRedisLockWaitsForRelease(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, time.Second)

	unlock, err := r.Lock(context.Background(), "deal:2")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := r.Lock(context.Background(), "deal:2")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired twice")
	case <-time.After(3 * redisRetryDelay):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over")
	}
}

func TestRedisLockRespectsContext(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, time.Second)

	_, err := r.Lock(context.Background(), "deal:3")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*redisRetryDelay)
	defer cancel()
	_, err = r.Lock(ctx, "deal:3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisUnlockKeepsForeignLease(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, time.Second)

	unlock, err := r.Lock(context.Background(), "deal:4")
	require.NoError(t, err)

	// аренда истекла и ключ занял другой процесс
	fake.mu.Lock()
	fake.keys[redisKeyPrefix+"deal:4"] = "other-owner"
	fake.mu.Unlock()

	unlock()
	assert.True(t, fake.held(redisKeyPrefix+"deal:4"))
}

func TestNewRedisDefaultTTL(t *testing.T) {
	r := NewRedis(newFakeRedis(), 0)
	assert.Equal(t, 30*time.Second, r.ttl)
}
