package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted set per key, scored by hit time in
// milliseconds. Trimming, counting and recording run inside one script so
// concurrent callers on any node see a consistent count.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local count = redis.call('ZCARD', key)

	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now_ms, member)
		count = count + 1
		allowed = 1
	end

	local oldest = 0
	local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if first[2] then
		oldest = tonumber(first[2])
	end

	redis.call('PEXPIRE', key, window_ms)
	return { allowed, count, oldest }
`)

// slidingWindowPeekScript trims and counts like slidingWindowScript but
// never records a hit.
var slidingWindowPeekScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local count = redis.call('ZCARD', key)

	local allowed = 0
	if count < limit then
		allowed = 1
	end

	local oldest = 0
	local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if first[2] then
		oldest = tonumber(first[2])
	end
	return { allowed, count, oldest }
`)

// RedisWindowStore is a WindowStore shared by every instance pointing at
// the same Redis. Keys expire with their window, so no sweeping is needed.
type RedisWindowStore struct {
	rdb    redis.Scripter
	prefix string
}

// NewRedisWindowStore prefixes every key with prefix.
func NewRedisWindowStore(rdb redis.Scripter, prefix string) *RedisWindowStore {
	return &RedisWindowStore{rdb: rdb, prefix: prefix}
}

var _ WindowStore = (*RedisWindowStore)(nil)

func (s *RedisWindowStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error) {
	args := []interface{}{
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString(),
	}
	return s.run(ctx, slidingWindowScript, key, args...)
}

func (s *RedisWindowStore) Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error) {
	return s.run(ctx, slidingWindowPeekScript, key, now.UnixMilli(), window.Milliseconds(), limit)
}

func (s *RedisWindowStore) run(ctx context.Context, script *redis.Script, key string, args ...interface{}) (WindowState, error) {
	vals, err := script.Run(ctx, s.rdb, []string{s.prefix + key}, args...).Slice()
	if err != nil {
		return WindowState{}, err
	}
	if len(vals) != 3 {
		return WindowState{}, fmt.Errorf("sliding window: unexpected reply %#v", vals)
	}
	st := WindowState{
		Allowed: asInt64(vals[0]) == 1,
		Count:   int(asInt64(vals[1])),
	}
	if ms := asInt64(vals[2]); ms > 0 {
		st.Oldest = time.UnixMilli(ms)
	}
	return st, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
