package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/ws"
)

type chatPayload struct {
	ChatID string `json:"chatId"`
}

type roomAck struct {
	ChatID ids.ID `json:"chatId"`
}

// joinRoom 确认成员身份后把当前连接（而非用户的全部连接）加入聊天组。
func (g *Gateway) joinRoom(ctx context.Context, c *ws.Conn, data json.RawMessage) (any, error) {
	var p chatPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", p.ChatID)
	if err != nil {
		return nil, err
	}
	member, err := g.members.IsMember(ctx, c.UserID(), chatID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}
	g.hub.Join(c, ws.ChatRoom(chatID))
	return roomAck{ChatID: chatID}, nil
}

// leaveRoom 不重新校验成员身份，已退出聊天的用户也能干净地离开。
func (g *Gateway) leaveRoom(_ context.Context, c *ws.Conn, data json.RawMessage) (any, error) {
	var p chatPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", p.ChatID)
	if err != nil {
		return nil, err
	}
	g.hub.Leave(c, ws.ChatRoom(chatID))
	return roomAck{ChatID: chatID}, nil
}

type sendPayload struct {
	ChatID   string `json:"chatId"`
	ClientID string `json:"clientId"`
	Body     string `json:"body"`
}

func (g *Gateway) sendMessage(ctx context.Context, c *ws.Conn, data json.RawMessage) (any, error) {
	var p sendPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", p.ChatID)
	if err != nil {
		return nil, err
	}
	return g.CreateMessage(ctx, c.UserID(), SendInput{ChatID: chatID, ClientID: p.ClientID, Body: p.Body}, SourceRealtime)
}

type readPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ReceiptUpdate 是 receipt:update 的负载。
type ReceiptUpdate struct {
	ChatID    ids.ID    `json:"chatId"`
	MessageID ids.ID    `json:"messageId"`
	UserID    ids.ID    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type readAck struct {
	ReadAt time.Time `json:"readAt"`
}

// markRead 的成员校验由存储协作者完成，广播发往整个聊天组，包括发送者的其他设备。
func (g *Gateway) markRead(ctx context.Context, c *ws.Conn, data json.RawMessage) (any, error) {
	var p readPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", p.ChatID)
	if err != nil {
		return nil, err
	}
	messageID, err := parseID("messageId", p.MessageID)
	if err != nil {
		return nil, err
	}
	readAt, err := g.members.UpdateReadCursor(ctx, chatID, c.UserID(), messageID)
	if err != nil {
		return nil, fmt.Errorf("update read cursor: %w", err)
	}
	readAt = readAt.UTC()
	g.hub.Emit(ws.ChatRoom(chatID), ws.OutReceiptUpdate, ReceiptUpdate{
		ChatID:    chatID,
		MessageID: messageID,
		UserID:    c.UserID(),
		ReadAt:    readAt,
	})
	return readAck{ReadAt: readAt}, nil
}

type typingState string

const (
	typingStart typingState = "start"
	typingStop  typingState = "stop"
)

// TypingUpdate 是 typing:update 的负载。
type TypingUpdate struct {
	ChatID ids.ID      `json:"chatId"`
	UserID ids.ID      `json:"userId"`
	State  typingState `json:"state"`
}

// typing 没有确认通道：校验失败直接返回错误由调用方丢弃，
// 成员校验与广播作为后台任务执行，发送者的所有连接都被排除。
func (g *Gateway) typing(state typingState) handlerFunc {
	return func(_ context.Context, c *ws.Conn, data json.RawMessage) (any, error) {
		var p chatPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		chatID, err := parseID("chatId", p.ChatID)
		if err != nil {
			return nil, err
		}
		uid := c.UserID()
		g.bestEffort("typing:"+string(state), func(ctx context.Context) error {
			member, err := g.members.IsMember(ctx, uid, chatID)
			if err != nil {
				return fmt.Errorf("check membership: %w", err)
			}
			if !member {
				return nil
			}
			g.hub.EmitExceptUser(ws.ChatRoom(chatID), uid, ws.OutTypingUpdate, TypingUpdate{
				ChatID: chatID,
				UserID: uid,
				State:  state,
			})
			return nil
		})
		return nil, nil
	}
}

type pingAck struct {
	ServerTime string `json:"serverTime"`
}

func (g *Gateway) ping(context.Context, *ws.Conn, json.RawMessage) (any, error) {
	return pingAck{ServerTime: g.now().UTC().Format(time.RFC3339Nano)}, nil
}
