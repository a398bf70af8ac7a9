package models

import (
	"time"

	"github.com/google/uuid"
)

type Chat struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:128;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMember 记录成员关系以及该成员在聊天中的已读游标。
type ChatMember struct {
	ChatID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID  `gorm:"type:uuid;primaryKey;index"`
	LastReadMessageID *uuid.UUID `gorm:"type:uuid"`
	LastReadAt        *time.Time
	JoinedAt          time.Time `gorm:"autoCreateTime"`
}

// Message 的 (chat_id, client_id) 唯一索引是重试幂等的唯一依据。
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_msg_chat_client,priority:1;index:idx_msg_chat_created,priority:1"`
	ClientID  string    `gorm:"size:128;not null;uniqueIndex:ux_msg_chat_client,priority:2"`
	SenderID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_chat_created,priority:2"`
}

// Session 存储不透明会话 token 的 sha256 摘要，明文 token 不落库。
type Session struct {
	TokenHash string     `gorm:"size:64;primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
