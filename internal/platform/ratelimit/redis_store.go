package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/bounded"
)

const defaultRedisTimeout = 500 * time.Millisecond

// redisStore implements Store using Redis INCR/PEXPIRE and PTTL.
type redisStore struct {
	rc      redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore creates a Store backed by rc. Each check gives up after timeout, even when the
// client itself would keep waiting on its socket.
func NewRedisStore(rc redis.UniversalClient, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &redisStore{rc: rc, timeout: timeout}
}

type decision struct {
	ok    bool
	retry int
}

var luaFixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[1]) end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	d, err := bounded.Call(ctx, "rate_limit_check", s.timeout, func(ctx context.Context) (decision, error) {
		return s.check(ctx, key, limit, window)
	})
	return d.ok, d.retry, err
}

func (s *redisStore) check(ctx context.Context, key string, limit int, window time.Duration) (decision, error) {
	// namespace keys for safety
	k := "rl:" + key
	vals, err := luaFixedWindow.Run(ctx, s.rc, []string{k}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return decision{}, err
	}
	if len(vals) != 2 {
		return decision{ok: true}, nil
	}
	current, ttlms := vals[0], vals[1]
	if current <= int64(limit) {
		return decision{ok: true}, nil
	}
	if ttlms <= 0 {
		return decision{}, nil
	}
	// ceil(ttl/1000)
	return decision{retry: int((ttlms + 999) / 1000)}, nil
}
