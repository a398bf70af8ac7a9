package service

import "errors"

// 存储层通用错误，网关根据错误类型映射到稳定的错误码。
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMember       = errors.New("user is not a member of the chat")
	ErrSessionNotFound = errors.New("session not found or expired")
)
