package ws

import (
	"encoding/json"

	"github.com/mhjmaas/famly-sub002/internal/ids"
)

// Event 是客户端可以发送的事件种类，闭合枚举。
type Event uint8

const (
	EventUnknown Event = iota
	EventRoomJoin
	EventRoomLeave
	EventMessageSend
	EventReceiptRead
	EventTypingStart
	EventTypingStop
	EventPresencePing

	eventCount
)

// NumEvents 用作按事件索引的处理表长度。
const NumEvents = eventCount

var eventNames = [eventCount]string{
	EventUnknown:      "unknown",
	EventRoomJoin:     "room:join",
	EventRoomLeave:    "room:leave",
	EventMessageSend:  "message:send",
	EventReceiptRead:  "receipt:read",
	EventTypingStart:  "typing:start",
	EventTypingStop:   "typing:stop",
	EventPresencePing: "presence:ping",
}

var eventByName = func() map[string]Event {
	m := make(map[string]Event, eventCount)
	for e := EventUnknown + 1; e < eventCount; e++ {
		m[eventNames[e]] = e
	}
	return m
}()

// ParseEvent 把线上的事件名转换为 Event，未知名称返回 EventUnknown。
func ParseEvent(name string) Event {
	if e, ok := eventByName[name]; ok {
		return e
	}
	return EventUnknown
}

func (e Event) String() string {
	if e < eventCount {
		return eventNames[e]
	}
	return eventNames[EventUnknown]
}

// Events 返回全部已知的入站事件。
func Events() []Event {
	out := make([]Event, 0, eventCount-1)
	for e := EventUnknown + 1; e < eventCount; e++ {
		out = append(out, e)
	}
	return out
}

// Outbound 是服务端推送给客户端的事件名。
type Outbound string

const (
	OutMessageNew          Outbound = "message:new"
	OutMessageNotification Outbound = "notification:message"
	OutReceiptUpdate       Outbound = "receipt:update"
	OutTypingUpdate        Outbound = "typing:update"
	OutPresenceUpdate      Outbound = "presence:update"
)

// Inbound 是客户端帧：{"event": "...", "ack": 7, "data": {...}}。
// Ack 为空表示客户端不需要确认。
type Inbound struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type eventFrame struct {
	Event Outbound `json:"event"`
	Data  any      `json:"data"`
}

type ackFrame struct {
	Ack  uint64 `json:"ack"`
	Data any    `json:"data"`
}

func EncodeEvent(ev Outbound, data any) ([]byte, error) {
	return json.Marshal(eventFrame{Event: ev, Data: data})
}

func EncodeAck(id uint64, data any) ([]byte, error) {
	return json.Marshal(ackFrame{Ack: id, Data: data})
}

// ChatRoom 返回聊天广播组名。
func ChatRoom(chatID ids.ID) string { return "chat:" + chatID.String() }

// UserRoom 返回用户私有广播组名。
func UserRoom(userID ids.ID) string { return "user:" + userID.String() }
