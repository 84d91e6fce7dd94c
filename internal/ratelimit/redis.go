package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "rate_limit:"

// slidingWindowScript keeps one sorted-set member per admitted request,
// scored by its timestamp in milliseconds.
//
// KEYS[1] window key, ARGV: now ms, window ms, limit, member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisStore keeps windows in Redis so every process shares the same counts.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: defaultKeyPrefix}
}

func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis sliding window %q: %w", key, err)
	}
	return res == 1, nil
}
