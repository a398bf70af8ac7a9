package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/models"

	"gorm.io/gorm"
)

// SessionService 管理不透明会话 token，供不使用 JWT 的客户端登录。
type SessionService struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// Create 为用户签发新的会话 token，返回明文 token。
func (s *SessionService) Create(ctx context.Context, userID ids.ID, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	sess := models.Session{
		TokenHash: hashToken(token),
		UserID:    userID.UUID(),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", err
	}
	return token, nil
}

// LookupSession 解析会话 token 对应的用户，过期、撤销或未知 token 返回 ErrSessionNotFound。
func (s *SessionService) LookupSession(ctx context.Context, token string) (ids.ID, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hashToken(token), time.Now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return ids.FromUUID(sess.UserID), nil
}

// Revoke 撤销会话，对未知 token 是空操作。
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("token_hash = ?", hashToken(token)).
		Update("revoked_at", &now).Error
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
