package escrow

import (
	"errors"
	"fmt"
)

// Kind 稳定的错误类别，HTTP 层据此映射状态码
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidState    Kind = "INVALID_STATE"
	KindInvalidInput    Kind = "INVALID_INPUT"
	KindMissingEvidence Kind = "MISSING_EVIDENCE"
	KindForbidden       Kind = "FORBIDDEN"
)

// Error 业务错误，errors.Is 按 Kind 匹配哨兵错误
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is 哨兵错误（Message 为空）匹配同 Kind 的任意错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrMissingEvidence = &Error{Kind: KindMissingEvidence}
	ErrForbidden       = &Error{Kind: KindForbidden}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf 提取错误类别，非业务错误返回 false
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
