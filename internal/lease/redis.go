package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares leases between API nodes through Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a Redis-backed locker. Keys are namespaced with prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "educert:lease"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return Lease{}, fmt.Errorf("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.redisKey(key), token, ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return Lease{}, ErrHeld
	}

	return Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (r *RedisLocker) Release(ctx context.Context, lease Lease) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.redisKey(lease.Key)}, lease.Token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	return nil
}

func (r *RedisLocker) redisKey(key string) string {
	return r.prefix + ":" + key
}
