package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis is a Store shared across API instances. Each key is a sorted set of
// admission timestamps scored in microseconds; the check-and-record step runs
// as a single Lua script so concurrent instances cannot over-admit.
type Redis struct {
	client redis.UniversalClient
}

var _ Store = (*Redis)(nil)

// takeScript prunes expired hits, admits if under the ceiling and reports the
// oldest surviving hit, all atomically.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  allowed = 1
  count = count + 1
end
redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// NewRedis creates a Store backed by client. Keys are namespaced under rl:.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, time.Time, error) {
	res, err := takeScript.Run(ctx, r.client, []string{"rl:" + key},
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.FormatInt(window.Microseconds(), 10),
		strconv.Itoa(max),
		uuid.NewString(),
	).Result()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	allowed := asInt64(vals[0]) == 1
	count := int(asInt64(vals[1]))
	var oldest time.Time
	if score := asInt64(vals[2]); score > 0 {
		oldest = time.UnixMicro(score)
	}
	return allowed, count, oldest, nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
