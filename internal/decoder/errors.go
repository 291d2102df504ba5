package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFieldType 报文中出现了 schema 未定义的类型码
	ErrUnknownFieldType = errors.New("unknown field type")
	// ErrTruncatedPayload 剩余字节不足一个完整字段
	ErrTruncatedPayload = errors.New("truncated payload")
)

// UnknownFieldTypeError 未知类型码, 由于无法得知字段宽度, 解码在此终止
type UnknownFieldTypeError struct {
	Code   uint8
	Offset int // 类型码所在位置
}

func (e *UnknownFieldTypeError) Error() string {
	return fmt.Sprintf("%s: code=%d at offset %d", ErrUnknownFieldType, e.Code, e.Offset)
}

func (e *UnknownFieldTypeError) Unwrap() error {
	return ErrUnknownFieldType
}

// TruncatedPayloadError 字段所需字节数多于剩余字节数
type TruncatedPayloadError struct {
	Field     string
	Offset    int // 记录起始位置
	Required  int
	Available int
}

func (e *TruncatedPayloadError) Error() string {
	return fmt.Sprintf("%s: field %q at offset %d needs %d bytes, %d available",
		ErrTruncatedPayload, e.Field, e.Offset, e.Required, e.Available)
}

func (e *TruncatedPayloadError) Unwrap() error {
	return ErrTruncatedPayload
}
