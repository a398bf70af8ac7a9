package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/metrics"
	"github.com/mhjmaas/famly-sub002/internal/ws"

	"github.com/rs/zerolog/log"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceUpdate 是 presence:update 的负载。
type PresenceUpdate struct {
	UserID ids.ID `json:"userId"`
	Status string `json:"status"`
}

// OnConnect 在握手认证成功后调用：登记连接，首个连接时向联系人广播上线。
func (g *Gateway) OnConnect(c *ws.Conn) {
	uid := c.UserID()
	if !g.presence.AddConnection(uid, c.ID()) {
		return
	}
	metrics.PresenceTransitionsTotal.WithLabelValues(StatusOnline).Inc()
	g.announcePresence(uid, StatusOnline)
}

// OnDisconnect 清理在线状态，最后一个连接断开时广播离线。
// 订阅关系由传输层在调用前释放。
func (g *Gateway) OnDisconnect(c *ws.Conn) {
	uid := c.UserID()
	if !g.presence.RemoveConnection(uid, c.ID()) {
		return
	}
	metrics.PresenceTransitionsTotal.WithLabelValues(StatusOffline).Inc()
	g.announcePresence(uid, StatusOffline)
}

// announcePresence 对上线和离线边沿统一节流。被节流的边沿交给一次延后的复查，
// 节流期结束后推送用户当时的真实状态。
func (g *Gateway) announcePresence(uid ids.ID, status string) {
	if !g.presence.ShouldBroadcast(uid) {
		log.Debug().Str("user_id", uid.String()).Str("status", status).Msg("presence broadcast throttled")
		g.scheduleTrailing(uid)
		return
	}
	g.bestEffort("presence:"+status, func(ctx context.Context) error {
		return g.emitPresence(ctx, uid, status)
	})
}

// scheduleTrailing 每个用户同时最多挂起一次复查。
func (g *Gateway) scheduleTrailing(uid ids.ID) {
	g.pendingMu.Lock()
	if _, ok := g.pending[uid]; ok {
		g.pendingMu.Unlock()
		return
	}
	g.pending[uid] = struct{}{}
	g.pendingMu.Unlock()

	g.bestEffort("presence:trailing", func(ctx context.Context) error {
		select {
		case <-g.after(g.presence.Remaining(uid)):
		case <-ctx.Done():
			g.clearPending(uid)
			return ctx.Err()
		}
		g.clearPending(uid)
		if !g.presence.ShouldBroadcast(uid) {
			g.scheduleTrailing(uid)
			return nil
		}
		status := StatusOffline
		if g.presence.IsOnline(uid) {
			status = StatusOnline
		}
		return g.emitPresence(ctx, uid, status)
	})
}

func (g *Gateway) clearPending(uid ids.ID) {
	g.pendingMu.Lock()
	delete(g.pending, uid)
	g.pendingMu.Unlock()
}

// emitPresence 推送到每个联系人的私有组。发送前重新检查状态，
// 已经过期的上线或离线通知会被丢弃。
func (g *Gateway) emitPresence(ctx context.Context, uid ids.ID, status string) error {
	contacts, err := g.members.ListContactIDs(ctx, uid)
	if err != nil {
		return fmt.Errorf("list contacts of %s: %w", uid, err)
	}
	if g.presence.IsOnline(uid) != (status == StatusOnline) {
		return nil
	}
	update := PresenceUpdate{UserID: uid, Status: status}
	for _, contact := range contacts {
		g.hub.Emit(ws.UserRoom(contact), ws.OutPresenceUpdate, update)
	}
	return nil
}

// OnEvent 按到达顺序处理同一连接的事件，事件名经闭合枚举查表分发。
func (g *Gateway) OnEvent(c *ws.Conn, in ws.Inbound) {
	ev := ws.ParseEvent(in.Event)
	r := g.routes[ev]

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	data, err := g.run(ctx, r, c, in.Data)

	result := "ok"
	if err != nil {
		code, _ := Classify(err)
		result = string(code)
	}
	metrics.WsEventsTotal.WithLabelValues(ev.String(), result).Inc()

	if !r.acked {
		if err != nil {
			log.Debug().Err(err).Str("event", in.Event).Str("user_id", c.UserID().String()).Msg("ws event dropped")
		}
		return
	}

	var ack Ack
	if err != nil {
		ack = failure(err, in.Event, c.UserID())
	} else {
		ack = success(data)
	}
	if in.Ack != nil {
		c.Ack(*in.Ack, ack)
	}
}

func (g *Gateway) run(ctx context.Context, r route, c *ws.Conn, data json.RawMessage) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &Error{Code: CodeInternal, Message: "internal error", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return r.handle(ctx, c, data)
}
