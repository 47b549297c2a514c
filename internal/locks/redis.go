package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisKeyPrefix    = "garant:lock:"
	redisRetryDelay   = 50 * time.Millisecond
	redisUnlockExpiry = 2 * time.Second
)

// unlockScript удаляет ключ, только если он всё ещё наш.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// cmdable — часть клиента go-redis, нужная блокировкам.
type cmdable interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Redis — блокировка-аренда через SET NX PX. Нужна, когда запущено несколько реплик бота.
// TTL должен быть больше самой долгой операции под блокировкой.
type Redis struct {
	client cmdable
	ttl    time.Duration
}

// NewRedis создаёт блокировки поверх клиента go-redis.
func NewRedis(client cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect подключается к Redis по URL и проверяет соединение.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	return client, nil
}

// Lock пытается занять ключ, пока не получится или не отменится ctx.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка блокировки %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisRetryDelay):
		}
	}

	return func() {
		// Снимаем блокировку и после отмены ctx вызывающего.
		unlockCtx, cancel := context.WithTimeout(context.Background(), redisUnlockExpiry)
		defer cancel()
		if err := unlockScript.Run(unlockCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			log.WithError(err).WithField("key", key).Warn("Не удалось снять блокировку, истечёт по TTL")
		}
	}, nil
}
