package works

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of redis.Cmdable used by RedisCache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares one credential slot between relay replicas.
// The key expires together with the credential.
type RedisCache struct {
	client redisClient
	key    string
	now    func() time.Time
}

// NewRedisCache stores the slot under "<prefix>credential:<clientID>".
func NewRedisCache(client redis.Cmdable, prefix, clientID string) *RedisCache {
	return newRedisCache(client, prefix, clientID)
}

func newRedisCache(client redisClient, prefix, clientID string) *RedisCache {
	if strings.TrimSpace(prefix) == "" {
		prefix = "worksrelay:"
	}
	return &RedisCache{
		client: client,
		key:    prefix + "credential:" + strings.TrimSpace(clientID),
		now:    time.Now,
	}
}

func (r *RedisCache) Key() string { return r.key }

func (r *RedisCache) Get(ctx context.Context) (Credential, bool, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credential{}, false, err
	}
	return c, true, nil
}

func (r *RedisCache) Set(ctx context.Context, c Credential) error {
	ttl := c.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Clear(ctx)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, b, ttl).Err()
}

func (r *RedisCache) Valid(ctx context.Context, now time.Time) bool {
	c, ok, err := r.Get(ctx)
	return err == nil && ok && c.ValidAt(now)
}

func (r *RedisCache) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
