package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ensureScript lazily creates the quota hash and rolls the window once the
// boundary has passed. Returns {used, limit, resets_at, fired}.
var ensureScript = redis.NewScript(`
local used = redis.call('HGET', KEYS[1], 'used')
if not used then
  redis.call('HSET', KEYS[1], 'used', 0, 'limit', ARGV[2], 'resets_at', ARGV[3])
  return {0, tonumber(ARGV[2]), tonumber(ARGV[3]), 0}
end
local limit = tonumber(redis.call('HGET', KEYS[1], 'limit'))
local resetsAt = tonumber(redis.call('HGET', KEYS[1], 'resets_at'))
if tonumber(ARGV[1]) >= resetsAt then
  redis.call('HSET', KEYS[1], 'used', 0, 'limit', ARGV[2], 'resets_at', ARGV[3])
  return {0, tonumber(ARGV[2]), tonumber(ARGV[3]), 1}
end
return {tonumber(used), limit, resetsAt, 0}
`)

// commitScript ensures the hash, then increments used unless the window is
// already exhausted, in which case used comes back as -1.
var commitScript = redis.NewScript(`
local used = redis.call('HGET', KEYS[1], 'used')
local limit
local resetsAt
if not used then
  redis.call('HSET', KEYS[1], 'used', 0, 'limit', ARGV[2], 'resets_at', ARGV[3])
  used = 0
  limit = tonumber(ARGV[2])
  resetsAt = tonumber(ARGV[3])
else
  used = tonumber(used)
  limit = tonumber(redis.call('HGET', KEYS[1], 'limit'))
  resetsAt = tonumber(redis.call('HGET', KEYS[1], 'resets_at'))
  if tonumber(ARGV[1]) >= resetsAt then
    redis.call('HSET', KEYS[1], 'used', 0, 'limit', ARGV[2], 'resets_at', ARGV[3])
    used = 0
    limit = tonumber(ARGV[2])
    resetsAt = tonumber(ARGV[3])
  end
end
if used >= limit then
  return {-1, limit, resetsAt, 0}
end
used = redis.call('HINCRBY', KEYS[1], 'used', 1)
return {used, limit, resetsAt, 0}
`)

// resetScript unconditionally zeroes usage and installs fresh window bounds.
var resetScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'used', 0, 'limit', ARGV[1], 'resets_at', ARGV[2])
return redis.status_reply('OK')
`)

type redisStore struct {
	rdb      *redis.Client
	defaults Defaults
}

// NewRedisStore constructs a Redis-backed quota store. All mutations run as
// Lua scripts so concurrent workers observe a single atomic counter.
func NewRedisStore(rdb *redis.Client, defaults Defaults) *redisStore {
	if defaults == nil {
		defaults = StaticDefaults(10, time.UTC)
	}
	return &redisStore{rdb: rdb, defaults: defaults}
}

func quotaKey(userID string) string {
	return "quota:" + userID
}

func (s *redisStore) Ensure(ctx context.Context, userID string) (Quota, error) {
	q, _, err := s.run(ctx, ensureScript, userID, time.Now().UTC())
	return q, err
}

func (s *redisStore) Commit(ctx context.Context, userID string) (Quota, error) {
	q, _, err := s.run(ctx, commitScript, userID, time.Now().UTC())
	if err != nil {
		return Quota{}, err
	}
	if q.Used < 0 {
		return Quota{}, ErrExhausted
	}
	return q, nil
}

func (s *redisStore) ResetIfDue(ctx context.Context, userID string, now time.Time) (Quota, bool, error) {
	return s.run(ctx, ensureScript, userID, now.UTC())
}

func (s *redisStore) Reset(ctx context.Context, userID string) (Quota, error) {
	now := time.Now().UTC()
	limit, resetsAt := s.defaults(ctx, userID, now)
	if err := resetScript.Run(ctx, s.rdb, []string{quotaKey(userID)}, limit, resetsAt.Unix()).Err(); err != nil {
		return Quota{}, err
	}
	return Quota{UserID: userID, Limit: limit, Used: 0, ResetsAt: resetsAt}, nil
}

func (s *redisStore) run(ctx context.Context, script *redis.Script, userID string, now time.Time) (Quota, bool, error) {
	limit, resetsAt := s.defaults(ctx, userID, now)
	res, err := script.Run(ctx, s.rdb, []string{quotaKey(userID)},
		now.Unix(), limit, resetsAt.Unix()).Result()
	if err != nil {
		return Quota{}, false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return Quota{}, false, fmt.Errorf("quota: unexpected script reply %T", res)
	}
	nums := make([]int64, 4)
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Quota{}, false, fmt.Errorf("quota: unexpected script field %T", v)
		}
		nums[i] = n
	}
	q := Quota{
		UserID:   userID,
		Used:     int(nums[0]),
		Limit:    int(nums[1]),
		ResetsAt: time.Unix(nums[2], 0).UTC(),
	}
	return q, nums[3] == 1, nil
}
