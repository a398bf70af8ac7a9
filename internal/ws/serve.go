package ws

import (
	"context"
	"net/http"

	"github.com/mhjmaas/famly-sub002/internal/auth"
	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator 把握手凭证解析为用户 ID。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (ids.ID, error)
}

// Dispatcher 接收连接生命周期回调与入站事件。
type Dispatcher interface {
	OnConnect(c *Conn)
	OnEvent(c *Conn, in Inbound)
	OnDisconnect(c *Conn)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 完成握手：认证失败时在升级前返回 401，任何事件处理器都不会运行；
// 认证成功后绑定用户并自动加入 user:<id> 私有组。
func Serve(h *Hub, authn Authenticator, d Dispatcher, sendBuffer int) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authn.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))
		if err != nil {
			log.Info().Err(err).Str("remote", c.ClientIP()).Msg("ws handshake rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "invalid or missing token"})
			return
		}

		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		conn := NewConn(userID, wsConn, sendBuffer)
		h.register(conn)
		defer h.unregister(conn)
		h.Join(conn, UserRoom(userID))
		metrics.WsConnections.Inc()
		log.Info().Str("conn_id", conn.id).Str("user_id", userID.String()).Msg("ws connected")

		d.OnConnect(conn)
		go conn.writePump()
		conn.readPump(d)

		// 订阅由传输层统一释放，Dispatcher 只处理在线状态。
		h.LeaveAll(conn)
		d.OnDisconnect(conn)
		metrics.WsConnections.Dec()
		log.Info().Str("conn_id", conn.id).Str("user_id", userID.String()).Msg("ws disconnected")
	}
}
