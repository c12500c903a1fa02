package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// banFailScript mirrors MemoryBanStore.Fail on a hash per key. The key
// lives for idle_ms after the last failure, or until the ban ends if that
// is later.
var banFailScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local threshold = tonumber(ARGV[2])
	local ban_ms = tonumber(ARGV[3])
	local idle_ms = tonumber(ARGV[4])

	local s = redis.call('HMGET', key, 'count', 'banned', 'ban_expiry')
	local count = tonumber(s[1]) or 0
	local banned = tonumber(s[2]) or 0
	local expiry = tonumber(s[3]) or 0

	if banned == 1 and now >= expiry then
		count = 0
		banned = 0
		expiry = 0
	end

	count = count + 1
	if banned == 0 and count >= threshold then
		banned = 1
		expiry = now + ban_ms
	end

	redis.call('HSET', key, 'count', count, 'last_attempt', now, 'banned', banned, 'ban_expiry', expiry)
	local ttl = idle_ms
	if banned == 1 and expiry - now > ttl then
		ttl = expiry - now
	end
	redis.call('PEXPIRE', key, ttl)
	return { count, banned, expiry, now }
`)

var banStatusScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])

	local s = redis.call('HMGET', key, 'count', 'banned', 'ban_expiry', 'last_attempt')
	if not s[1] then
		return { 0, 0, 0, 0 }
	end
	local count = tonumber(s[1]) or 0
	local banned = tonumber(s[2]) or 0
	local expiry = tonumber(s[3]) or 0
	local last = tonumber(s[4]) or 0

	if banned == 1 and now >= expiry then
		redis.call('HSET', key, 'count', 0, 'banned', 0, 'ban_expiry', 0)
		count = 0
		banned = 0
		expiry = 0
	end
	return { count, banned, expiry, last }
`)

// RedisBanStore is a BanStore shared across instances.
type RedisBanStore struct {
	rdb     redis.Scripter
	prefix  string
	idleTTL time.Duration
}

// NewRedisBanStore keeps idle records for idleTTL.
func NewRedisBanStore(rdb redis.Scripter, prefix string, idleTTL time.Duration) *RedisBanStore {
	return &RedisBanStore{rdb: rdb, prefix: prefix, idleTTL: idleTTL}
}

var _ BanStore = (*RedisBanStore)(nil)

func (s *RedisBanStore) Fail(ctx context.Context, key string, threshold int, banFor time.Duration, now time.Time) (BanState, error) {
	vals, err := banFailScript.Run(ctx, s.rdb, []string{s.prefix + key},
		now.UnixMilli(), threshold, banFor.Milliseconds(), s.idleTTL.Milliseconds()).Slice()
	if err != nil {
		return BanState{}, err
	}
	return decodeBanState(vals)
}

func (s *RedisBanStore) Status(ctx context.Context, key string, now time.Time) (BanState, error) {
	vals, err := banStatusScript.Run(ctx, s.rdb, []string{s.prefix + key}, now.UnixMilli()).Slice()
	if err != nil {
		return BanState{}, err
	}
	return decodeBanState(vals)
}

func decodeBanState(vals []interface{}) (BanState, error) {
	if len(vals) != 4 {
		return BanState{}, fmt.Errorf("ban store: unexpected reply %#v", vals)
	}
	st := BanState{
		Count:  int(asInt64(vals[0])),
		Banned: asInt64(vals[1]) == 1,
	}
	if ms := asInt64(vals[2]); ms > 0 {
		st.BanExpiry = time.UnixMilli(ms)
	}
	if ms := asInt64(vals[3]); ms > 0 {
		st.LastAttempt = time.UnixMilli(ms)
	}
	return st, nil
}
