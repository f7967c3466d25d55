package apperror

import (
	"errors"
	"fmt"
)

// 错误码
const (
	CodeValidation       = 1000
	CodeNotFound         = 1003
	CodeConflict         = 1005
	CodeInvalidState     = 1006
	CodeInsufficientData = 1007
	CodeInternal         = 5000
)

// 预定义错误，配合 errors.Is 使用
var (
	ErrValidation       = New(CodeValidation, "validation error")
	ErrNotFound         = New(CodeNotFound, "resource not found")
	ErrConflict         = New(CodeConflict, "conflict")
	ErrInvalidState     = New(CodeInvalidState, "invalid state")
	ErrInsufficientData = New(CodeInsufficientData, "insufficient data")
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 同错误码视为同一类错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code int, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

func NotFound(message string) *AppError {
	return New(CodeNotFound, message)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

func InvalidState(message string) *AppError {
	return New(CodeInvalidState, message)
}

func InsufficientData(message string) *AppError {
	return New(CodeInsufficientData, message)
}

// CodeOf 从错误获取错误码
func CodeOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf 从错误获取对外消息
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
