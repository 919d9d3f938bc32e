package apperr

import (
	"errors"
	"fmt"
)

// Code 错误分类
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeForbidden  Code = "FORBIDDEN"
	CodeConflict   Code = "CONFLICT"
	CodeNotFound   Code = "NOT_FOUND"
	CodeTransient  Code = "TRANSIENT" // 外部依赖暂时不可用，只在翻译 worker 内部使用
	CodeInternal   Code = "INTERNAL"
)

// Error 带分类的业务错误，Message 可直接展示给调用方
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error { return New(CodeValidation, msg) }

func Forbidden(msg string) error { return New(CodeForbidden, msg) }

func Conflict(msg string) error { return New(CodeConflict, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Transient(msg string, cause error) error { return Wrap(CodeTransient, msg, cause) }

// CodeOf 取出错误分类，非业务错误一律视为 INTERNAL
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf 取出可展示的错误信息
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Is 判断错误是否属于指定分类
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
