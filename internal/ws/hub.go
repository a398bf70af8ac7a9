package ws

import (
	"context"
	"sync"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"

	"github.com/rs/zerolog/log"
)

// Hub 维护广播组到订阅连接的映射，加锁顺序固定为 Hub 再 Conn。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	// live 记录握手成功、生命周期清理尚未结束的连接。
	live map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		live:  make(map[*Conn]struct{}),
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.live[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.live, c)
	h.mu.Unlock()
}

// Live 返回仍在服务中的连接数。
func (h *Hub) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// CloseAll 关闭全部连接，并等待每条连接的断开清理完成或 ctx 结束。
// 停服时在等待后台任务之前调用。
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.live))
	for c := range h.live {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for h.Live() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Join 把连接加入广播组，重复加入是幂等的。
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[room]
	if subs == nil {
		subs = make(map[*Conn]struct{})
		h.rooms[room] = subs
	}
	subs[c] = struct{}{}
	c.addRoom(room)
}

// Leave 把连接移出广播组，空组会被删除。
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	c.removeRoom(room)
}

// LeaveAll 在断开时调用，移除连接的全部订阅。
func (h *Hub) LeaveAll(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.takeRooms() {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	subs := h.rooms[room]
	if subs == nil {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.rooms, room)
	}
}

// Emit 向广播组的当前订阅者推送事件，返回成功入队的连接数。
func (h *Hub) Emit(room string, ev Outbound, data any) int {
	return h.emit(room, ev, data, "")
}

// EmitExceptUser 与 Emit 相同，但跳过属于 userID 的所有连接。
func (h *Hub) EmitExceptUser(room string, userID ids.ID, ev Outbound, data any) int {
	return h.emit(room, ev, data, userID)
}

func (h *Hub) emit(room string, ev Outbound, data any, skip ids.ID) int {
	targets := h.subscribers(room)
	if len(targets) == 0 {
		return 0
	}
	b, err := EncodeEvent(ev, data)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev)).Str("room", room).Msg("encode broadcast")
		return 0
	}
	n := 0
	for _, c := range targets {
		if skip != "" && c.userID == skip {
			continue
		}
		if c.Send(b) {
			n++
		}
	}
	return n
}

// subscribers 在读锁内拷贝订阅者，推送在锁外进行。
func (h *Hub) subscribers(room string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.rooms[room]
	out := make([]*Conn, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

// Online 返回广播组的订阅连接数。
func (h *Hub) Online(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms 返回当前存在的广播组数量。
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
