package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "gridpool:lock"
	}
	return &RedisLocker{client: client, prefix: normalized}
}

func (l *RedisLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	name = strings.TrimSpace(name)
	owner = strings.TrimSpace(owner)
	if name == "" {
		return false, errors.New("lock name is required")
	}
	if owner == "" {
		return false, errors.New("owner is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	acquired, err := l.client.SetNX(ctx, l.key(name), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}
	return acquired, nil
}

func (l *RedisLocker) Release(ctx context.Context, name, owner string) error {
	name = strings.TrimSpace(name)
	owner = strings.TrimSpace(owner)
	if name == "" {
		return errors.New("lock name is required")
	}
	if owner == "" {
		return errors.New("owner is required")
	}

	_, err := releaseLockScript.Run(ctx, l.client, []string{l.key(name)}, owner).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock release: %w", err)
	}
	return nil
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + ":" + name
}

var releaseLockScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if not existing then
  return 0
end
if existing == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
