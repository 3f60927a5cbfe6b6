package manager

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrClosed 表示 Manager 已关闭。
var ErrClosed = errors.New("manager closed")

// ValidationError 描述标识符类型与 Provider 声明的类型不一致。
type ValidationError struct {
	Expected reflect.Type
	Got      reflect.Type
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("identifier type %s does not match %s", typeName(e.Got), typeName(e.Expected))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// validateIdentifier 要求标识符的动态类型与 expected 完全一致；expected 为 nil 时只拒绝 nil。
func validateIdentifier(expected reflect.Type, identifier any) error {
	got := reflect.TypeOf(identifier)
	if got == nil || (expected != nil && got != expected) {
		return &ValidationError{Expected: expected, Got: got}
	}
	return nil
}
