package server

import (
	"net/http"

	"github.com/mhjmaas/famly-sub002/internal/auth"
	"github.com/mhjmaas/famly-sub002/internal/config"
	"github.com/mhjmaas/famly-sub002/internal/gateway"
	"github.com/mhjmaas/famly-sub002/internal/metrics"
	"github.com/mhjmaas/famly-sub002/internal/mw"
	"github.com/mhjmaas/famly-sub002/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要的已装配组件，由 main 创建。
type Deps struct {
	Hub       *ws.Hub
	Gateway   *gateway.Gateway
	Auth      *auth.Authenticator
	Handler   *Handler
	IPLimiter *mw.IPLimiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 握手在升级前完成认证，失败返回 401。
	r.GET("/ws", ws.Serve(d.Hub, d.Auth, d.Gateway, cfg.WSSendBuffer))

	api := r.Group("/api/v1")
	if d.IPLimiter != nil {
		api.Use(d.IPLimiter.Middleware())
	}
	api.Use(auth.AuthMiddleware(d.Auth))
	api.POST("/chats/:id/messages", d.Handler.CreateMessage)
	api.GET("/chats/:id/messages", d.Handler.ListMessages)
	return r
}
