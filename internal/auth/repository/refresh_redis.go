package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
)

const (
	redisTokenPrefix     = "rt:tok:"
	redisPrincipalPrefix = "rt:principal:"
	redisFamilyPrefix    = "rt:family:"
)

// RedisRefreshTokens keeps refresh tokens as hashes that expire with the token. Per-principal and
// per-family sets index them for bulk revocation. Every state change runs as a Lua script so
// rotation is atomic.
type RedisRefreshTokens struct {
	rc  redis.UniversalClient
	now func() time.Time
}

func NewRedisRefreshTokens(rc redis.UniversalClient) *RedisRefreshTokens {
	return &RedisRefreshTokens{rc: rc, now: time.Now}
}

// KEYS: token, principal set, family set. ARGV: hash, ttl ms, field/value pairs.
var luaSaveToken = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
for i = 2, 3 do
  redis.call('SADD', KEYS[i], ARGV[1])
  if redis.call('PTTL', KEYS[i]) < tonumber(ARGV[2]) then
    redis.call('PEXPIRE', KEYS[i], ARGV[2])
  end
end
return 1
`)

// KEYS: token, successor, principal set, family set. ARGV: now ms, successor hash, ttl ms,
// field/value pairs. Returns 0 unknown, 1 rotated, 2 not active, 3 duplicate successor.
var luaRotateToken = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local revoked = redis.call('HGET', KEYS[1], 'revoked_at')
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if (revoked and revoked ~= '') or exp <= tonumber(ARGV[1]) then return 2 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 3 end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1], 'revoked_reason', 'rotated')
redis.call('HSET', KEYS[2], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[2], ARGV[3])
for i = 3, 4 do
  redis.call('SADD', KEYS[i], ARGV[2])
  if redis.call('PTTL', KEYS[i]) < tonumber(ARGV[3]) then
    redis.call('PEXPIRE', KEYS[i], ARGV[3])
  end
end
return 1
`)

// KEYS: token. ARGV: now ms, reason.
var luaRevokeToken = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local revoked = redis.call('HGET', KEYS[1], 'revoked_at')
if revoked and revoked ~= '' then return 0 end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1], 'revoked_reason', ARGV[2])
return 1
`)

// KEYS: index set. ARGV: now ms, reason, token key prefix. Prunes members whose token expired.
var luaRevokeIndexed = redis.NewScript(`
local n = 0
for _, h in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local k = ARGV[3] .. h
  if redis.call('EXISTS', k) == 1 then
    local revoked = redis.call('HGET', k, 'revoked_at')
    if not revoked or revoked == '' then
      redis.call('HSET', k, 'revoked_at', ARGV[1], 'revoked_reason', ARGV[2])
      n = n + 1
    end
  else
    redis.call('SREM', KEYS[1], h)
  end
end
return n
`)

// tokenFields flattens rec into HSET field/value pairs.
func tokenFields(rec domain.RefreshToken) []any {
	parent := ""
	if rec.ParentID != nil {
		parent = rec.ParentID.String()
	}
	return []any{
		"id", rec.ID.String(),
		"principal_id", rec.PrincipalID.String(),
		"family_id", rec.FamilyID.String(),
		"parent_id", parent,
		"remember", strconv.FormatBool(rec.Remember),
		"user_agent", rec.UserAgent,
		"ip", rec.IP,
		"expires_at", rec.ExpiresAt.UnixMilli(),
		"created_at", rec.CreatedAt.UnixMilli(),
		"revoked_at", "",
		"revoked_reason", "",
	}
}

// prepare fills defaults and returns the time left before rec expires.
func (r *RedisRefreshTokens) prepare(rec *domain.RefreshToken) (time.Duration, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0, fmt.Errorf("already expired")
	}
	return ttl, nil
}

func indexKeys(rec domain.RefreshToken) []string {
	return []string{redisPrincipalPrefix + rec.PrincipalID.String(), redisFamilyPrefix + rec.FamilyID.String()}
}

func (r *RedisRefreshTokens) Save(ctx context.Context, token string, rec domain.RefreshToken) error {
	ttl, err := r.prepare(&rec)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	hash := domain.HashToken(token)
	args := append([]any{hash, ttl.Milliseconds()}, tokenFields(rec)...)
	keys := append([]string{redisTokenPrefix + hash}, indexKeys(rec)...)
	created, err := luaSaveToken.Run(ctx, r.rc, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("save refresh token: duplicate token")
	}
	return nil
}

func (r *RedisRefreshTokens) Find(ctx context.Context, token string) (domain.RefreshToken, error) {
	hash := domain.HashToken(token)
	fields, err := r.rc.HGetAll(ctx, redisTokenPrefix+hash).Result()
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	if len(fields) == 0 {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return decodeRedisToken(hash, fields)
}

func (r *RedisRefreshTokens) Rotate(ctx context.Context, token, next string, successor domain.RefreshToken) error {
	ttl, err := r.prepare(&successor)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	nextHash := domain.HashToken(next)
	keys := append([]string{redisTokenPrefix + domain.HashToken(token), redisTokenPrefix + nextHash}, indexKeys(successor)...)
	args := append([]any{r.now().UnixMilli(), nextHash, ttl.Milliseconds()}, tokenFields(successor)...)
	state, err := luaRotateToken.Run(ctx, r.rc, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	switch state {
	case 0:
		return domain.ErrNotFound
	case 2:
		return domain.ErrRefreshTokenNotActive
	case 3:
		return fmt.Errorf("rotate refresh token: duplicate token")
	}
	return nil
}

func (r *RedisRefreshTokens) Revoke(ctx context.Context, token string) error {
	key := redisTokenPrefix + domain.HashToken(token)
	if err := luaRevokeToken.Run(ctx, r.rc, []string{key}, r.now().UnixMilli(), domain.RevokedLogout).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *RedisRefreshTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID) error {
	_, err := r.revokeIndexed(ctx, redisFamilyPrefix+familyID.String(), domain.RevokedReuse)
	return err
}

func (r *RedisRefreshTokens) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error) {
	return r.revokeIndexed(ctx, redisPrincipalPrefix+principalID.String(), domain.RevokedAll)
}

func (r *RedisRefreshTokens) revokeIndexed(ctx context.Context, indexKey, reason string) (int64, error) {
	n, err := luaRevokeIndexed.Run(ctx, r.rc, []string{indexKey}, r.now().UnixMilli(), reason, redisTokenPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}

// PurgeExpired drops index entries whose token key Redis has already expired and reports how many
// were removed.
func (r *RedisRefreshTokens) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	for _, pattern := range []string{redisPrincipalPrefix + "*", redisFamilyPrefix + "*"} {
		iter := r.rc.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			set := iter.Val()
			members, err := r.rc.SMembers(ctx, set).Result()
			if err != nil {
				return removed, fmt.Errorf("purge refresh tokens: %w", err)
			}
			for _, h := range members {
				exists, err := r.rc.Exists(ctx, redisTokenPrefix+h).Result()
				if err != nil {
					return removed, fmt.Errorf("purge refresh tokens: %w", err)
				}
				if exists == 0 {
					n, err := r.rc.SRem(ctx, set, h).Result()
					if err != nil {
						return removed, fmt.Errorf("purge refresh tokens: %w", err)
					}
					if strings.HasPrefix(set, redisPrincipalPrefix) {
						removed += n
					}
				}
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("purge refresh tokens: %w", err)
		}
	}
	return removed, nil
}

func decodeRedisToken(hash string, f map[string]string) (domain.RefreshToken, error) {
	var (
		rt  domain.RefreshToken
		err error
	)
	rt.TokenHash = hash
	if rt.ID, err = uuid.Parse(f["id"]); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("decode refresh token id: %w", err)
	}
	if rt.PrincipalID, err = uuid.Parse(f["principal_id"]); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("decode refresh token principal: %w", err)
	}
	if rt.FamilyID, err = uuid.Parse(f["family_id"]); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("decode refresh token family: %w", err)
	}
	if p := f["parent_id"]; p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return domain.RefreshToken{}, fmt.Errorf("decode refresh token parent: %w", err)
		}
		rt.ParentID = &id
	}
	rt.Remember, _ = strconv.ParseBool(f["remember"])
	rt.UserAgent = f["user_agent"]
	rt.IP = f["ip"]
	if rt.ExpiresAt, err = unixMilli(f["expires_at"]); err != nil {
		return domain.RefreshToken{}, err
	}
	if rt.CreatedAt, err = unixMilli(f["created_at"]); err != nil {
		return domain.RefreshToken{}, err
	}
	if v := f["revoked_at"]; v != "" {
		t, err := unixMilli(v)
		if err != nil {
			return domain.RefreshToken{}, err
		}
		rt.RevokedAt = &t
		rt.RevokedReason = f["revoked_reason"]
	}
	return rt, nil
}

func unixMilli(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode refresh token timestamp: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
