package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/auth"
	"github.com/mhjmaas/famly-sub002/internal/config"
	"github.com/mhjmaas/famly-sub002/internal/db"
	"github.com/mhjmaas/famly-sub002/internal/gateway"
	clog "github.com/mhjmaas/famly-sub002/internal/log"
	"github.com/mhjmaas/famly-sub002/internal/mw"
	"github.com/mhjmaas/famly-sub002/internal/presence"
	"github.com/mhjmaas/famly-sub002/internal/ratelimit"
	"github.com/mhjmaas/famly-sub002/internal/server"
	"github.com/mhjmaas/famly-sub002/internal/service"
	"github.com/mhjmaas/famly-sub002/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库、装配网关并启动 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	chats := service.NewChatService(gdb)
	msgs := service.NewMessageService(gdb)
	sessions := service.NewSessionService(gdb)

	limiter := newLimiter(ctx, cfg)
	hub := ws.NewHub()
	tracker := presence.NewTracker(cfg.PresenceThrottle)
	go tracker.Run(ctx, time.Minute)
	gw := gateway.New(gateway.Config{
		Hub:            hub,
		Presence:       tracker,
		Limiter:        limiter,
		Members:        chats,
		Messages:       msgs,
		HandlerTimeout: cfg.HandlerTimeout,
	})

	// 单个 IP+路由每秒 20 次，突发 40。
	ipLimiter := mw.NewIPLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	go ipLimiter.Run(30 * time.Second)
	defer ipLimiter.Stop()

	r := server.SetupRouter(cfg, server.Deps{
		Hub:       hub,
		Gateway:   gw,
		Auth:      auth.NewAuthenticator(cfg.JWTSecret, sessions),
		Handler:   server.NewHandler(gw, chats, msgs),
		IPLimiter: ipLimiter,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// 已升级的连接不归 http.Server 管理，需要单独关闭。
	if err := hub.CloseAll(shutdownCtx); err != nil {
		log.Warn().Err(err).Int("live", hub.Live()).Msg("websocket connections did not close")
	}
	if err := gw.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background tasks did not finish")
	}
}

// newLimiter 按配置选择限速后端；内存后端附带清理空闲窗口的后台任务。
func newLimiter(ctx context.Context, cfg config.Config) ratelimit.Limiter {
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("rate limiter backend: redis")
		return ratelimit.NewRedis(client, "ratelimit:msg:", cfg.RateLimitMaxMessages, cfg.RateLimitWindow)
	}
	mem := ratelimit.NewMemory(cfg.RateLimitMaxMessages, cfg.RateLimitWindow)
	go mem.Run(ctx, time.Minute)
	return mem
}
