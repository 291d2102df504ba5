package schema

import (
	"errors"
	"fmt"
)

// ErrInvalidDescriptor 字段描述非法
var ErrInvalidDescriptor = errors.New("invalid field descriptor")

// InvalidDescriptorError 携带出错的类型码与原因
type InvalidDescriptorError struct {
	Code   int
	Name   string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("%s: code=%d name=%q: %s", ErrInvalidDescriptor, e.Code, e.Name, e.Reason)
}

func (e *InvalidDescriptorError) Unwrap() error {
	return ErrInvalidDescriptor
}
