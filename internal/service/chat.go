package service

import (
	"context"
	"errors"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatService 封装聊天成员关系与已读游标。
type ChatService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db, now: time.Now}
}

// Create 创建聊天并写入初始成员，主要供种子数据与测试使用。
func (s *ChatService) Create(ctx context.Context, name string, memberIDs ...ids.ID) (ids.ID, error) {
	chat := models.Chat{ID: uuid.New(), Name: name}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		for _, uid := range memberIDs {
			if err := tx.Create(&models.ChatMember{ChatID: chat.ID, UserID: uid.UUID()}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ids.FromUUID(chat.ID), nil
}

// AddMember 将用户加入聊天，重复加入是幂等的。
func (s *ChatService) AddMember(ctx context.Context, chatID, userID ids.ID) error {
	m := models.ChatMember{ChatID: chatID.UUID(), UserID: userID.UUID()}
	return s.db.WithContext(ctx).Where(m).FirstOrCreate(&m).Error
}

// IsMember 判断用户是否属于聊天。
func (s *ChatService) IsMember(ctx context.Context, userID, chatID ids.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID.UUID(), userID.UUID()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMemberIDs 返回聊天的全部成员。
func (s *ChatService) ListMemberIDs(ctx context.Context, chatID ids.ID) ([]ids.ID, error) {
	var raw []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ?", chatID.UUID()).
		Order("joined_at").
		Pluck("user_id", &raw).Error
	if err != nil {
		return nil, err
	}
	return toIDs(raw), nil
}

// ListContactIDs 返回与用户至少共享一个聊天的其他用户，用于在线状态推送。
func (s *ChatService) ListContactIDs(ctx context.Context, userID ids.ID) ([]ids.ID, error) {
	var raw []uuid.UUID
	uid := userID.UUID()
	err := s.db.WithContext(ctx).Table("chat_members AS other").
		Joins("JOIN chat_members AS mine ON mine.chat_id = other.chat_id").
		Where("mine.user_id = ? AND other.user_id <> ?", uid, uid).
		Distinct().
		Pluck("other.user_id", &raw).Error
	if err != nil {
		return nil, err
	}
	return toIDs(raw), nil
}

// UpdateReadCursor 把用户在聊天中的已读游标移动到 messageID，返回更新时间。
// 非成员返回 ErrNotMember，聊天或消息不存在返回对应的 NotFound 错误。
func (s *ChatService) UpdateReadCursor(ctx context.Context, chatID, userID, messageID ids.ID) (time.Time, error) {
	readAt := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Select("id").First(&chat, "id = ?", chatID.UUID()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return err
		}

		var member models.ChatMember
		err := tx.Where("chat_id = ? AND user_id = ?", chatID.UUID(), userID.UUID()).First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Message{}).
			Where("id = ? AND chat_id = ?", messageID.UUID(), chatID.UUID()).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrMessageNotFound
		}

		mid := messageID.UUID()
		return tx.Model(&models.ChatMember{}).
			Where("chat_id = ? AND user_id = ?", chatID.UUID(), userID.UUID()).
			Updates(map[string]any{"last_read_message_id": &mid, "last_read_at": readAt}).Error
	})
	if err != nil {
		return time.Time{}, err
	}
	return readAt, nil
}

func toIDs(raw []uuid.UUID) []ids.ID {
	out := make([]ids.ID, 0, len(raw))
	for _, u := range raw {
		out = append(out, ids.FromUUID(u))
	}
	return out
}
