// Package ratelimit 实现按用户的滑动窗口发送限速。
//
// Memory 是默认实现，进程内、重启即丢失；Redis 实现同样的窗口语义，
// 用 Lua 脚本保证多进程下的原子性。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
)

// Limiter 判断用户此刻能否再发送一条消息。允许时即记录本次发送。
type Limiter interface {
	Allow(ctx context.Context, userID ids.ID) (bool, error)
}

const (
	DefaultMaxMessages = 10
	DefaultWindow      = 10 * time.Second
)

// Memory 为每个用户维护窗口内的发送时间戳。
type Memory struct {
	mu      sync.Mutex
	windows map[ids.ID][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

type Option func(*Memory)

// WithClock 替换时间源，测试中用来推进时间。
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func NewMemory(maxMessages int, window time.Duration, opts ...Option) *Memory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Memory{
		windows: make(map[ids.ID][]time.Time),
		max:     maxMessages,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow 先剔除过期时间戳再计数；超限时不记录本次尝试。
// 剔除、比较、追加在同一把锁内完成，同一用户的多个连接并发调用也不会丢失更新。
func (m *Memory) Allow(_ context.Context, userID ids.ID) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := prune(m.windows[userID], now.Add(-m.window))
	if len(ts) >= m.max {
		m.windows[userID] = ts
		return false, nil
	}
	m.windows[userID] = append(ts, now)
	return true, nil
}

// Count 返回用户当前窗口内的发送次数。
func (m *Memory) Count(userID ids.ID) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := prune(m.windows[userID], now.Add(-m.window))
	m.windows[userID] = ts
	return len(ts)
}

// Reset 清空所有窗口，供测试隔离使用。
func (m *Memory) Reset() {
	m.mu.Lock()
	m.windows = make(map[ids.ID][]time.Time)
	m.mu.Unlock()
}

// Sweep 删除窗口内已无记录的用户，返回删除数量。
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.window)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for uid, ts := range m.windows {
		if len(prune(ts, cutoff)) == 0 {
			delete(m.windows, uid)
			removed++
		}
	}
	return removed
}

// Run 周期性执行 Sweep，直到 ctx 结束。
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// prune 原地丢弃早于 cutoff 的时间戳，ts 按时间升序。
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
