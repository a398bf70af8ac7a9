package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageService 封装消息持久化，幂等性完全依赖 (chat_id, client_id) 唯一约束。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// NewMessage 是创建消息的输入。
type NewMessage struct {
	ChatID   ids.ID
	SenderID ids.ID
	ClientID string
	Body     string
}

// CreateOrGet 插入消息；若同一聊天中 clientID 已存在则返回已有消息，created 为 false。
// 并发的重复请求由数据库约束裁决，这里不做进程内加锁。
func (s *MessageService) CreateOrGet(ctx context.Context, in NewMessage) (*models.Message, bool, error) {
	msg := models.Message{
		ID:       uuid.New(),
		ChatID:   in.ChatID.UUID(),
		ClientID: in.ClientID,
		SenderID: in.SenderID.UUID(),
		Body:     in.Body,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "client_id"}},
			DoNothing: true,
		}).
		Create(&msg)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert message: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &msg, true, nil
	}

	var existing models.Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND client_id = ?", msg.ChatID, msg.ClientID).
		First(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("load existing message: %w", err)
	}
	return &existing, false, nil
}

// ListByChat 分页查询聊天消息，按时间升序返回；beforeID 非空时只返回更早的消息。
func (s *MessageService) ListByChat(ctx context.Context, chatID ids.ID, limit int, beforeID ids.ID) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID.UUID())
	if !beforeID.IsZero() {
		var pivot models.Message
		err := s.db.WithContext(ctx).
			Select("id", "created_at").
			Where("id = ? AND chat_id = ?", beforeID.UUID(), chatID.UUID()).
			First(&pivot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at < ?", pivot.CreatedAt)
	}

	var msgs []models.Message
	if err := q.Order("created_at desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
