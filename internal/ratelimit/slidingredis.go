package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingScript trims the log to the window, admits the event only while
// under the limit and returns {allowed, remaining, oldest score in ms}.
// Rejected events are not logged, so a throttled client recovers on schedule.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, limit - count, first}
`)

// Limiter is a sliding-window log over a Redis sorted set, one per key.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow records an event for key when it fits within max per window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	res, err := slidingScript.Run(ctx, l.Client,
		[]string{l.Prefix + key},
		now.UnixMilli(), windowMs, max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	reset := time.UnixMilli(res[2] + windowMs)
	return res[0] == 1, int(max64(res[1], 0)), reset, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
