package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port        string
	DatabaseDSN string
	JWTSecret   string
	Env         string

	// 发送限速：每个用户在滑动窗口内允许的消息数。
	RateLimitMaxMessages int
	RateLimitWindow      time.Duration
	RateLimitBackend     string
	RedisAddr            string

	PresenceThrottle time.Duration
	WSSendBuffer     int
	HandlerTimeout   time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getint 读取正整数，非法或非正数时回落到默认值。
func getint(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func Load() Config {
	return Config{
		Port:                 getenv("APP_PORT", "8080"),
		DatabaseDSN:          getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=famly port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:            getenv("JWT_SECRET", defaultJWTSecret),
		Env:                  getenv("APP_ENV", "dev"),
		RateLimitMaxMessages: getint("RATE_LIMIT_MAX_MESSAGES", 10),
		RateLimitWindow:      time.Duration(getint("RATE_LIMIT_WINDOW_SECONDS", 10)) * time.Second,
		RateLimitBackend:     getenv("RATE_LIMIT_BACKEND", "memory"),
		RedisAddr:            getenv("REDIS_ADDR", "localhost:6379"),
		PresenceThrottle:     time.Duration(getint("PRESENCE_THROTTLE_MS", 2000)) * time.Millisecond,
		WSSendBuffer:         getint("WS_SEND_BUFFER", 256),
		HandlerTimeout:       time.Duration(getint("HANDLER_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// Validate 在启动前检查配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default JWT_SECRET is only allowed in dev")
	}
	switch cfg.RateLimitBackend {
	case "", "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis rate limit backend")
		}
	default:
		return errors.New("config: unknown RATE_LIMIT_BACKEND " + strconv.Quote(cfg.RateLimitBackend))
	}
	return nil
}
