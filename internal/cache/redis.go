package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// incrScript atomically increments a counter and sets its TTL only on the
// first increment, avoiding a read-then-write race.
var incrScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// velocityAddScript adds one member to a sorted set keyed by score
// (a unix timestamp in seconds), trims anything older than the
// window, and refreshes the key's TTL so empty sets eventually vanish.
var velocityAddScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// RedisCache is the Cache implementation backing the pro tier, either
// standalone or as the L2 tier of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func rkey(tenantID, key string) string { return "fraudsvc:" + tenantID + ":" + key }

func (r *RedisCache) Get(ctx context.Context, tenantID, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, rkey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, rkey(tenantID, key), value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, rkey(tenantID, key)).Err()
}

func (r *RedisCache) IncrementCounter(ctx context.Context, tenantID, key string, ttl time.Duration) (int64, error) {
	res, err := incrScript.Run(ctx, r.client, []string{rkey(tenantID, key)}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	return toInt64(res), nil
}

func (r *RedisCache) VelocityAdd(ctx context.Context, tenantID, key, member string, score float64, ttl time.Duration) error {
	cutoff := score - ttl.Seconds()
	_, err := velocityAddScript.Run(ctx, r.client, []string{rkey(tenantID, key)},
		score, member, cutoff, ttl.Milliseconds()).Result()
	return err
}

func (r *RedisCache) VelocityCount(ctx context.Context, tenantID, key string, since float64) (int64, error) {
	return r.client.ZCount(ctx, rkey(tenantID, key), formatScore(since), "+inf").Result()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

var _ domain.Cache = (*RedisCache)(nil)

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
