package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 匹配所有配置校验错误，调用方可用 errors.Is 判断。
var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError 指出出错的字段路径（如 Source[osm].Upstream）及原因。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
}

func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

func newFieldError(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

func wrapFieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// sourceField 生成 Source[name].Field 形式的字段路径。
func sourceField(name, field string) string {
	return fmt.Sprintf("Source[%s].%s", name, field)
}
