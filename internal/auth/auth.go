package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrUnknownSession = errors.New("unknown or expired session")
)

type Claims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// SessionLookup 解析不透明会话 token，由会话存储实现。
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (ids.ID, error)
}

func GenerateAccessToken(userID ids.ID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// LooksLikeJWT 只做结构判断：恰好三段且每段非空。
func LooksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Authenticator 把握手凭证解析为用户 ID。
type Authenticator struct {
	secret   string
	sessions SessionLookup
}

func NewAuthenticator(secret string, sessions SessionLookup) *Authenticator {
	return &Authenticator{secret: secret, sessions: sessions}
}

// Authenticate 根据 token 形态选择本地验签或会话查询，不做试错式回退。
func (a *Authenticator) Authenticate(ctx context.Context, token string) (ids.ID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	if LooksLikeJWT(token) {
		claims, err := ParseAccessToken(token, a.secret)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		raw := claims.UserID
		if raw == "" {
			raw = claims.Subject
		}
		uid, err := ids.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: bad user claim", ErrInvalidToken)
		}
		return uid, nil
	}
	if a.sessions == nil {
		return "", ErrUnknownSession
	}
	uid, err := a.sessions.LookupSession(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownSession, err)
	}
	return uid, nil
}

// TokenFromRequest 依次读取 Authorization: Bearer 头和 token 查询参数。
func TokenFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := a.Authenticate(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrMissingToken) {
				msg = "missing bearer token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": msg})
			return
		}
		c.Set("userID", uid)
		c.Next()
	}
}

func GetUserID(c *gin.Context) ids.ID {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(ids.ID); ok2 {
			return id
		}
	}
	return ""
}
