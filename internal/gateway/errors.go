package gateway

import (
	"errors"
	"fmt"

	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Code 是确认帧中对客户端稳定的错误码。
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
)

// Error 携带错误码与可展示给客户端的消息。
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrRateLimited = &Error{Code: CodeRateLimited, Message: "too many messages, slow down"}
	ErrForbidden   = &Error{Code: CodeForbidden, Message: "not a member of this chat"}
)

// Classify 把任意错误映射为错误码和对外消息，内部细节不会外泄。
func Classify(err error) (Code, string) {
	var ge *Error
	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &ge):
		return ge.Code, ge.Message
	case errors.Is(err, ids.ErrInvalid):
		return CodeValidation, "malformed identifier"
	case errors.Is(err, service.ErrChatNotFound):
		return CodeNotFound, "chat not found"
	case errors.Is(err, service.ErrMessageNotFound):
		return CodeNotFound, "message not found"
	case errors.Is(err, service.ErrNotMember):
		return CodeForbidden, "not a member of this chat"
	default:
		return CodeInternal, "internal error"
	}
}

// Ack 是所有确认帧的统一信封。
type Ack struct {
	OK            bool   `json:"ok"`
	Data          any    `json:"data,omitempty"`
	Error         Code   `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func success(data any) Ack { return Ack{OK: true, Data: data} }

// failure 生成关联 ID 并记录日志，用于客户端报错与服务端日志对齐。
func failure(err error, event string, userID ids.ID) Ack {
	code, msg := Classify(err)
	cid := uuid.NewString()
	level := zerolog.InfoLevel
	if code == CodeInternal {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).Err(err).
		Str("event", event).
		Str("user_id", userID.String()).
		Str("code", string(code)).
		Str("correlation_id", cid).
		Msg("ws event failed")
	return Ack{OK: false, Error: code, Message: msg, CorrelationID: cid}
}
