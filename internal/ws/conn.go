package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 256 << 10

	DefaultSendBuffer = 256
)

// Conn 是一条已认证的连接。userID 在握手时绑定，之后不可变。
type Conn struct {
	id     string
	userID ids.ID
	ws     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewConn 创建连接；ws 为 nil 时只有出站队列，测试中用来观察推送。
func NewConn(userID ids.ID, ws *websocket.Conn, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() ids.ID { return c.userID }

// Outbound 暴露出站队列，由写循环消费。
func (c *Conn) Outbound() <-chan []byte { return c.send }

func (c *Conn) Done() <-chan struct{} { return c.done }

// Rooms 返回连接当前所在的广播组，按名称排序。
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Send 非阻塞入队。连接已关闭时丢弃，缓冲区满时关闭这条慢连接。
func (c *Conn) Send(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		metrics.SlowConsumersTotal.Inc()
		log.Warn().Str("conn_id", c.id).Str("user_id", c.userID.String()).Msg("ws send buffer full, closing")
		c.Close()
		return false
	}
}

// Emit 向这条连接推送一个服务端事件。
func (c *Conn) Emit(ev Outbound, data any) bool {
	b, err := EncodeEvent(ev, data)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev)).Msg("encode event")
		return false
	}
	return c.Send(b)
}

// Ack 回复客户端的确认。连接断开后的确认被静默丢弃。
func (c *Conn) Ack(id uint64, data any) bool {
	b, err := EncodeAck(id, data)
	if err != nil {
		log.Error().Err(err).Uint64("ack", id).Msg("encode ack")
		return false
	}
	return c.Send(b)
}

// Close 幂等地关闭连接，读写循环随之退出。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Conn) takeRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	c.rooms = make(map[string]struct{})
	return out
}

// readPump 按到达顺序逐个分发事件，同一连接的事件不会并发处理。
func (c *Conn) readPump(d Dispatcher) {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("ws read")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		in, ok := decodeFrame(data)
		if !ok {
			log.Debug().Str("conn_id", c.id).Msg("ws malformed frame")
			continue
		}
		d.OnEvent(c, in)
	}
}

// decodeFrame 解析入站帧。事件名缺失或帧无法解析时，只要还能取出 ack id，
// 就以空事件名交给 Dispatcher，由未知事件处理回复校验错误；否则丢弃。
func decodeFrame(data []byte) (Inbound, bool) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err == nil && in.Event != "" {
		return in, true
	}
	var partial struct {
		Ack *uint64 `json:"ack"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || partial.Ack == nil {
		return Inbound{}, false
	}
	return Inbound{Ack: partial.Ack}, true
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
