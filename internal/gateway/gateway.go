// Package gateway 实现实时网关的事件处理与连接生命周期。
//
// 内存状态（限流窗口、在线状态）由组合根创建后注入；每个事件在独立于连接的
// context 中执行，连接断开不会取消正在进行的持久化。
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/models"
	"github.com/mhjmaas/famly-sub002/internal/presence"
	"github.com/mhjmaas/famly-sub002/internal/ratelimit"
	"github.com/mhjmaas/famly-sub002/internal/service"
	"github.com/mhjmaas/famly-sub002/internal/ws"

	"github.com/rs/zerolog/log"
)

const DefaultHandlerTimeout = 10 * time.Second

// Membership 是成员关系与已读游标的存储协作者。
type Membership interface {
	IsMember(ctx context.Context, userID, chatID ids.ID) (bool, error)
	ListMemberIDs(ctx context.Context, chatID ids.ID) ([]ids.ID, error)
	ListContactIDs(ctx context.Context, userID ids.ID) ([]ids.ID, error)
	UpdateReadCursor(ctx context.Context, chatID, userID, messageID ids.ID) (time.Time, error)
}

// Messages 是幂等消息写入的存储协作者。
type Messages interface {
	CreateOrGet(ctx context.Context, in service.NewMessage) (*models.Message, bool, error)
}

type Config struct {
	Hub      *ws.Hub
	Presence *presence.Tracker
	Limiter  ratelimit.Limiter
	Members  Membership
	Messages Messages

	HandlerTimeout time.Duration
	Now            func() time.Time
	// After 用于等待在线状态节流期结束，默认 time.After。
	After func(time.Duration) <-chan time.Time
}

type handlerFunc func(ctx context.Context, c *ws.Conn, data json.RawMessage) (any, error)

type route struct {
	handle handlerFunc
	acked  bool
}

// Gateway 实现 ws.Dispatcher。
type Gateway struct {
	hub      *ws.Hub
	presence *presence.Tracker
	limiter  ratelimit.Limiter
	members  Membership
	messages Messages
	timeout  time.Duration
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	routes [ws.NumEvents]route
	tasks  sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[ids.ID]struct{}
}

func New(cfg Config) *Gateway {
	g := &Gateway{
		hub:      cfg.Hub,
		presence: cfg.Presence,
		limiter:  cfg.Limiter,
		members:  cfg.Members,
		messages: cfg.Messages,
		timeout:  cfg.HandlerTimeout,
		now:      cfg.Now,
		after:    cfg.After,
		pending:  make(map[ids.ID]struct{}),
	}
	if g.timeout <= 0 {
		g.timeout = DefaultHandlerTimeout
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.after == nil {
		g.after = time.After
	}
	g.routes = [ws.NumEvents]route{
		ws.EventUnknown:      {handle: unknownEvent, acked: true},
		ws.EventRoomJoin:     {handle: g.joinRoom, acked: true},
		ws.EventRoomLeave:    {handle: g.leaveRoom, acked: true},
		ws.EventMessageSend:  {handle: g.sendMessage, acked: true},
		ws.EventReceiptRead:  {handle: g.markRead, acked: true},
		ws.EventTypingStart:  {handle: g.typing(typingStart)},
		ws.EventTypingStop:   {handle: g.typing(typingStop)},
		ws.EventPresencePing: {handle: g.ping, acked: true},
	}
	return g
}

func unknownEvent(context.Context, *ws.Conn, json.RawMessage) (any, error) {
	return nil, validationf("unknown event")
}

// Drain 等待所有尽力而为的后台任务结束，供停服和测试使用。
func (g *Gateway) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bestEffort 在独立 goroutine 中执行次要副作用：失败只记录日志，不重试，也不影响主流程。
func (g *Gateway) bestEffort(task string, fn func(ctx context.Context) error) {
	g.tasks.Add(1)
	go func() {
		defer g.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", task).Msg("best-effort task panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("task", task).Msg("best-effort task failed")
		}
	}()
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return validationf("malformed payload")
	}
	return nil
}

func parseID(field, raw string) (ids.ID, error) {
	id, err := ids.Parse(raw)
	if err != nil {
		return "", &Error{Code: CodeValidation, Message: field + " must be a valid identifier", Err: err}
	}
	return id, nil
}

var _ ws.Dispatcher = (*Gateway)(nil)
