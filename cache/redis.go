package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codragon2020/prompt-manager/core"
)

// Both keys of a prompt share a hash tag so the Set script runs on one
// cluster slot.
const (
	redisKeyActive     = "active:{%s}"
	redisKeyGeneration = "active:{%s}:gen"
)

// setIfGeneration writes one hash field only while the generation key still
// holds ARGV[1].
const setIfGeneration = `
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`

// DefaultTTL bounds how long a stale entry can survive a missed invalidation.
const DefaultTTL = 30 * time.Second

// RedisClient is the minimal Redis interface needed (satisfied by *redis.Client, *redis.ClusterClient).
type RedisClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisCache stores one hash per prompt: key <prefix>active:{<promptID>},
// field = environment key, value = JSON ActiveView. The generation counter
// lives in <prefix>active:{<promptID>}:gen.
type RedisCache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache using the given Redis client. Optional key
// prefix (e.g. "promptmgr"); ttl <= 0 uses DefaultTTL.
func NewRedisCache(client RedisClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient opens a go-redis client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (r *RedisCache) key(promptID string) string {
	return r.prefix + fmt.Sprintf(redisKeyActive, promptID)
}

func (r *RedisCache) genKey(promptID string) string {
	return r.prefix + fmt.Sprintf(redisKeyGeneration, promptID)
}

// Get implements ActiveCache.
func (r *RedisCache) Get(ctx context.Context, promptID, env string) (*core.ActiveView, bool, error) {
	data, err := r.client.HGet(ctx, r.key(promptID), env).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get: %w", err)
	}
	var view core.ActiveView
	if err := json.Unmarshal(data, &view); err != nil {
		// Undecodable entries count as misses and are overwritten on the next Set.
		return nil, false, nil
	}
	return &view, true, nil
}

// Generation implements ActiveCache. A missing counter is generation 0.
func (r *RedisCache) Generation(ctx context.Context, promptID string) (int64, error) {
	gen, err := r.client.Get(ctx, r.genKey(promptID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis cache generation: %w", err)
	}
	return gen, nil
}

// Set implements ActiveCache. The generation check and the write run as one
// script.
func (r *RedisCache) Set(ctx context.Context, promptID string, gen int64, view *core.ActiveView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis cache encode: %w", err)
	}
	keys := []string{r.key(promptID), r.genKey(promptID)}
	err = r.client.Eval(ctx, setIfGeneration, keys,
		strconv.FormatInt(gen, 10), view.Env, string(data), r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

// Invalidate implements ActiveCache. The generation is advanced before the
// entries are dropped.
func (r *RedisCache) Invalidate(ctx context.Context, promptID string, envs ...string) error {
	if err := r.client.Incr(ctx, r.genKey(promptID)).Err(); err != nil {
		return fmt.Errorf("redis cache invalidate: %w", err)
	}
	k := r.key(promptID)
	var err error
	if len(envs) == 0 {
		err = r.client.Del(ctx, k).Err()
	} else {
		err = r.client.HDel(ctx, k, envs...).Err()
	}
	if err != nil {
		return fmt.Errorf("redis cache invalidate: %w", err)
	}
	return nil
}

var _ ActiveCache = (*RedisCache)(nil)
