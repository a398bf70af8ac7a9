// Package ids 定义对外可见的标识符类型。
//
// 用户、聊天、消息的 ID 在边界处校验一次，之后以 ID 类型在组件之间传递；
// 只有存储层会把它转换成 uuid.UUID。
package ids

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid 表示传入的字符串不是合法的标识符。
var ErrInvalid = errors.New("invalid identifier")

// ID 是经过校验的不透明标识符（规范 UUID 文本形式）。
type ID string

// Parse 校验并规范化外部传入的标识符。
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return "", ErrInvalid
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalid
	}
	return ID(u.String()), nil
}

// MustParse 用于测试与常量，非法输入直接 panic。
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// New 生成一个新的随机标识符。
func New() ID { return ID(uuid.NewString()) }

// FromUUID 由存储层使用，将主键转换回对外标识符。
func FromUUID(u uuid.UUID) ID { return ID(u.String()) }

func (id ID) String() string { return string(id) }

// IsZero 报告 ID 是否为空值。
func (id ID) IsZero() bool { return id == "" }

// UUID 返回存储层使用的主键类型。未经 Parse 校验的非法值返回 uuid.Nil，
// 不会匹配任何记录。
func (id ID) UUID() uuid.UUID {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return uuid.Nil
	}
	return u
}
