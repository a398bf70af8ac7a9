package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/metrics"
	"github.com/mhjmaas/famly-sub002/internal/models"
	"github.com/mhjmaas/famly-sub002/internal/service"
	"github.com/mhjmaas/famly-sub002/internal/ws"
)

const (
	MaxRealtimeBodyChars = 8000
	MaxHTTPBodyBytes     = 100 << 10
	maxClientIDLen       = 128
)

// Source 区分消息的来源通道，两条通道共享幂等约定，只是正文上限不同。
type Source int

const (
	SourceRealtime Source = iota
	SourceHTTP
)

// MessageView 是消息的线上表示。
type MessageView struct {
	ID        ids.ID    `json:"id"`
	ChatID    ids.ID    `json:"chatId"`
	ClientID  string    `json:"clientId"`
	SenderID  ids.ID    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func ViewOf(m *models.Message) MessageView {
	return MessageView{
		ID:        ids.FromUUID(m.ID),
		ChatID:    ids.FromUUID(m.ChatID),
		ClientID:  m.ClientID,
		SenderID:  ids.FromUUID(m.SenderID),
		Body:      m.Body,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

type SendInput struct {
	ChatID   ids.ID
	ClientID string
	Body     string
}

// SendResult 总是带回客户端的 clientId 与服务端 id，便于客户端对齐乐观写入。
type SendResult struct {
	ClientID string      `json:"clientId"`
	ServerID ids.ID      `json:"serverId"`
	Message  MessageView `json:"message"`
	Created  bool        `json:"created"`
}

type messageEvent struct {
	Message MessageView `json:"message"`
}

type messageNotification struct {
	ChatID  ids.ID      `json:"chatId"`
	Message MessageView `json:"message"`
}

func validateBody(body string, src Source) error {
	if strings.TrimSpace(body) == "" {
		return validationf("body must not be empty")
	}
	switch src {
	case SourceHTTP:
		if len(body) > MaxHTTPBodyBytes {
			return validationf("body exceeds %d bytes", MaxHTTPBodyBytes)
		}
	default:
		if utf8.RuneCountInString(body) > MaxRealtimeBodyChars {
			return validationf("body exceeds %d characters", MaxRealtimeBodyChars)
		}
	}
	return nil
}

// CreateMessage 依次执行 校验、限流、鉴权、幂等写入、广播。
// 限流先于鉴权，非成员无法借此探测任意聊天。幂等命中时不再广播。
func (g *Gateway) CreateMessage(ctx context.Context, senderID ids.ID, in SendInput, src Source) (*SendResult, error) {
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		return nil, validationf("clientId is required")
	}
	if len(clientID) > maxClientIDLen {
		return nil, validationf("clientId exceeds %d bytes", maxClientIDLen)
	}
	if err := validateBody(in.Body, src); err != nil {
		return nil, err
	}

	allowed, err := g.limiter.Allow(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		metrics.RateLimitedTotal.Inc()
		return nil, ErrRateLimited
	}

	member, err := g.members.IsMember(ctx, senderID, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}

	msg, created, err := g.messages.CreateOrGet(ctx, service.NewMessage{
		ChatID:   in.ChatID,
		SenderID: senderID,
		ClientID: clientID,
		Body:     in.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	view := ViewOf(msg)

	if created {
		metrics.MessagesCreatedTotal.WithLabelValues("created").Inc()
		g.hub.Emit(ws.ChatRoom(in.ChatID), ws.OutMessageNew, messageEvent{Message: view})
		g.notifyMembers(view)
	} else {
		metrics.MessagesCreatedTotal.WithLabelValues("duplicate").Inc()
	}

	return &SendResult{ClientID: clientID, ServerID: view.ID, Message: view, Created: created}, nil
}

// notifyMembers 向每个成员（包括发送者）的私有组推送通知，发送者的其他设备借此同步。
// 与聊天组广播是两条独立通道，同一连接可能两者都收到，去重由客户端负责。
func (g *Gateway) notifyMembers(view MessageView) {
	g.bestEffort("notify:message", func(ctx context.Context) error {
		memberIDs, err := g.members.ListMemberIDs(ctx, view.ChatID)
		if err != nil {
			return fmt.Errorf("list members of %s: %w", view.ChatID, err)
		}
		note := messageNotification{ChatID: view.ChatID, Message: view}
		for _, uid := range memberIDs {
			g.hub.Emit(ws.UserRoom(uid), ws.OutMessageNotification, note)
		}
		return nil
	})
}
