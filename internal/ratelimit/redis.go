package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"

	"github.com/redis/go-redis/v9"
)

// slidingWindow 在一个脚本内完成剔除、计数与追加。成员用自增计数器保证唯一。
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', key .. ':seq', window_ms)
	return 1
`)

// Redis 是基于有序集合的滑动窗口限速器。
type Redis struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
}

func NewRedis(client *redis.Client, prefix string, maxMessages int, window time.Duration) *Redis {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, prefix: prefix, max: maxMessages, window: window}
}

func (r *Redis) Allow(ctx context.Context, userID ids.ID) (bool, error) {
	now := time.Now()
	res, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + userID.String()},
		now.UnixMilli(),
		now.Add(-r.window).UnixMilli(),
		r.max,
		r.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

// Reset 清除单个用户的窗口。
func (r *Redis) Reset(ctx context.Context, userID ids.ID) error {
	key := r.prefix + userID.String()
	return r.client.Del(ctx, key, key+":seq").Err()
}
