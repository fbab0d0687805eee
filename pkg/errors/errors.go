// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess      ErrorCode = "0"
	CodeUnknown      ErrorCode = "1000"
	CodeInvalidParam ErrorCode = "1001"
	CodeNotFound     ErrorCode = "1004"

	// 修订图错误 (3xxx)
	CodeInvariantViolation    ErrorCode = "3001"
	CodeClassificationUnknown ErrorCode = "3002"
	CodeRevisionNotFound      ErrorCode = "3003"
	CodeCheckpointNotFound    ErrorCode = "3004"
	CodeTimelineNotFound      ErrorCode = "3005"

	// 存储错误 (5xxx)
	CodePersistenceFailure ErrorCode = "5001"
	CodeCacheError         ErrorCode = "5002"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Err     error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg = msg + " (" + e.Detail + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，使 errors.Is(err, ErrInvariantViolation) 对包装后的错误生效
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail 返回附带详细信息的副本，预定义错误不会被修改
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回附带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound     = New(CodeNotFound, "resource not found")

	ErrInvariantViolation    = New(CodeInvariantViolation, "revision invariant violated")
	ErrClassificationUnknown = New(CodeClassificationUnknown, "relation cannot be classified")
	ErrRevisionNotFound      = New(CodeRevisionNotFound, "revision not found")
	ErrCheckpointNotFound    = New(CodeCheckpointNotFound, "checkpoint not found")
	ErrTimelineNotFound      = New(CodeTimelineNotFound, "timeline not found")

	ErrPersistenceFailure = New(CodePersistenceFailure, "persistence failure")
	ErrCacheError         = New(CodeCacheError, "cache failure")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// CodeOf 返回错误链上第一个 AppError 的错误码
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Persistence 将存储层错误包装为 PersistenceFailure，已是 AppError 的错误原样返回
func Persistence(err error, message string) error {
	if err == nil {
		return nil
	}
	if IsAppError(err) {
		return err
	}
	return Wrap(err, CodePersistenceFailure, message)
}

// Invariant 创建 InvariantViolation 错误
func Invariant(format string, args ...any) *AppError {
	return ErrInvariantViolation.WithDetail(fmt.Sprintf(format, args...))
}
