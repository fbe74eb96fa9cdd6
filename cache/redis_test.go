package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codragon2020/prompt-manager/core"
)

// fakeRedis is an in-process hash store speaking the RedisClient interface.
// Eval understands only the conditional set script.
type fakeRedis struct {
	hashes  map[string]map[string]string
	strs    map[string]string
	expires map[string]time.Duration
	failGet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes:  map[string]map[string]string{},
		strs:    map[string]string{},
		expires: map[string]time.Duration{},
	}
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	var n int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.hashes, k)
		delete(f.strs, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.strs[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	n, _ := strconv.ParseInt(f.strs[key], 10, 64)
	n++
	f.strs[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	gen, ok := f.strs[keys[1]]
	if !ok {
		gen = "0"
	}
	if gen != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	h, ok := f.hashes[keys[0]]
	if !ok {
		h = map[string]string{}
		f.hashes[keys[0]] = h
	}
	h[args[1].(string)] = args[2].(string)
	f.expires[keys[0]] = time.Duration(args[3].(int64)) * time.Millisecond
	return redis.NewCmdResult(int64(1), nil)
}

func view(env, pubID string) *core.ActiveView {
	return &core.ActiveView{
		Env:           env,
		PublicationID: pubID,
		PublishedAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PublishedBy:   "alice",
		Version:       &core.Version{ID: "v1", Version: 1, Content: "Hello", Variables: []core.Variable{}},
	}
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	c := NewRedisCache(f, "promptmgr", time.Minute)

	_, ok, err := c.Get(ctx, "p1", "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := c.Generation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Set(ctx, "p1", gen, view("prod", "pub1")))
	assert.Contains(t, f.hashes, "promptmgr:active:{p1}")
	assert.Equal(t, time.Minute, f.expires["promptmgr:active:{p1}"])

	got, ok, err := c.Get(ctx, "p1", "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pub1", got.PublicationID)
	assert.Equal(t, "Hello", got.Version.Content)
}

func TestRedisCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	c := NewRedisCache(f, "", 0)
	require.NoError(t, c.Set(ctx, "p1", 0, view("prod", "a")))
	require.NoError(t, c.Set(ctx, "p1", 0, view("dev", "b")))
	assert.Equal(t, DefaultTTL, f.expires["active:{p1}"])

	require.NoError(t, c.Invalidate(ctx, "p1", "prod"))
	_, ok, _ := c.Get(ctx, "p1", "prod")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "p1", "dev")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "p1"))
	_, ok, _ = c.Get(ctx, "p1", "dev")
	assert.False(t, ok)

	gen, err := c.Generation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
}

func TestRedisCache_SetAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	c := NewRedisCache(f, "", 0)

	gen, err := c.Generation(ctx, "p1")
	require.NoError(t, err)

	// A publish lands between the reader's store read and its Set.
	require.NoError(t, c.Invalidate(ctx, "p1", "prod"))
	require.NoError(t, c.Set(ctx, "p1", gen, view("prod", "stale")))

	_, ok, err := c.Get(ctx, "p1", "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "p1", gen, view("prod", "fresh")))
	got, ok, err := c.Get(ctx, "p1", "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.PublicationID)
}

func TestRedisCache_GetErrorsAndGarbage(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	c := NewRedisCache(f, "x", 0)

	f.hashes["x:active:{p1}"] = map[string]string{"prod": "{not json"}
	_, ok, err := c.Get(ctx, "p1", "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	f.failGet = errors.New("connection refused")
	_, _, err = c.Get(ctx, "p1", "prod")
	assert.ErrorContains(t, err, "connection refused")
	_, err = c.Generation(ctx, "p1")
	assert.ErrorContains(t, err, "connection refused")
}
