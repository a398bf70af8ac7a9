// Package presence 跟踪用户跨多个连接的在线状态。
//
// 用户在线当且仅当其连接集合非空；集合清空时删除该用户的状态。
// 广播节流时间戳单独保存，离线后依然保留，快速重连无法绕过节流。
// 每个进程只应有一个 Tracker 实例，由组合根创建并注入。
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
)

const DefaultThrottle = 2 * time.Second

type state struct {
	conns map[string]struct{}
}

type Tracker struct {
	mu       sync.Mutex
	users    map[ids.ID]*state
	last     map[ids.ID]time.Time
	throttle time.Duration
	now      func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(throttle time.Duration, opts ...Option) *Tracker {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	t := &Tracker{
		users:    make(map[ids.ID]*state),
		last:     make(map[ids.ID]time.Time),
		throttle: throttle,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddConnection 记录连接；仅当用户此前离线时返回 true（上线边沿）。
func (t *Tracker) AddConnection(userID ids.ID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.users[userID]
	if !ok {
		st = &state{conns: make(map[string]struct{})}
		t.users[userID] = st
	}
	wasOffline := len(st.conns) == 0
	st.conns[connID] = struct{}{}
	return wasOffline
}

// RemoveConnection 移除连接；集合变空时删除状态并返回 true（离线边沿）。
// 未知连接是空操作。
func (t *Tracker) RemoveConnection(userID ids.ID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.users[userID]
	if !ok {
		return false
	}
	if _, ok := st.conns[connID]; !ok {
		return false
	}
	delete(st.conns, connID)
	if len(st.conns) == 0 {
		delete(t.users, userID)
		return true
	}
	return false
}

func (t *Tracker) IsOnline(userID ids.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[userID]
	return ok
}

// SocketCount 返回用户当前的连接数。
func (t *Tracker) SocketCount(userID ids.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.users[userID]; ok {
		return len(st.conns)
	}
	return 0
}

// ShouldBroadcast 每个 throttle 周期内最多返回一次 true，判断与更新时间戳是原子的。
// 在线与离线用户一视同仁。
func (t *Tracker) ShouldBroadcast(userID ids.ID) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[userID]; ok && now.Sub(last) < t.throttle {
		return false
	}
	t.last[userID] = now
	return true
}

// Remaining 返回距离下一次允许广播还有多久，可以立即广播时为 0。
func (t *Tracker) Remaining(userID ids.ID) time.Duration {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[userID]
	if !ok {
		return 0
	}
	if d := t.throttle - now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Sweep 删除已超出节流周期的广播时间戳，返回删除数量。
func (t *Tracker) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for uid, last := range t.last {
		if now.Sub(last) >= t.throttle {
			delete(t.last, uid)
			n++
		}
	}
	return n
}

// Run 周期性执行 Sweep，直到 ctx 结束。
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// OnlineUsers 返回当前在线用户的快照，顺序不定。
func (t *Tracker) OnlineUsers() []ids.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ids.ID, 0, len(t.users))
	for uid := range t.users {
		out = append(out, uid)
	}
	return out
}

// Reset 清空全部状态，供测试隔离使用。
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.users = make(map[ids.ID]*state)
	t.last = make(map[ids.ID]time.Time)
	t.mu.Unlock()
}
