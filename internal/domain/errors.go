// Package domain 定义了函数运行时的核心领域模型。
package domain

import (
	"errors"
	"fmt"
)

// Code 是对外暴露的稳定错误码。
// 错误码会原样写入响应信封的 code 字段，调用方依赖其做分支判断，不可随意修改。
type Code string

// 错误码常量定义
const (
	// CodeSystemError 表示运行时自身的未分类错误
	CodeSystemError Code = "ERR_SYSTEM_ERROR"
	// CodeInvalidBody 表示请求体格式不合法
	CodeInvalidBody Code = "ERR_REQUEST_INVALID_BODY"
	// CodeFunctionNotFound 表示路由不存在，或函数实现单元缺失/无法解析
	CodeFunctionNotFound Code = "ERR_FUNCTION_NOT_FOUND"
	// CodeFunctionExecution 表示入口契约不满足，或用户函数执行时出错
	CodeFunctionExecution Code = "ERR_FUNCTION_EXECUTION_ERROR"
)

// Error 是运行时的"已知错误"。
// 所有由错误分类体系产生的错误都使用该类型，响应组装时会转换为 {code, message}。
type Error struct {
	// Code 错误码
	Code Code
	// Message 面向用户的错误描述
	Message string
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	return fmt.Sprintf("Error: code: %s, msg: %s", e.Code, e.Message)
}

// Is 按错误码匹配，使 errors.Is(err, ErrFunctionNotFound) 对任意消息的同类错误成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// 哨兵错误，仅用于 errors.Is 按类别判断，不携带具体消息
var (
	// ErrSystem 匹配任意系统错误
	ErrSystem = &Error{Code: CodeSystemError}
	// ErrInvalidBody 匹配任意请求体错误
	ErrInvalidBody = &Error{Code: CodeInvalidBody}
	// ErrFunctionNotFound 匹配任意函数不存在错误
	ErrFunctionNotFound = &Error{Code: CodeFunctionNotFound}
	// ErrFunctionExecution 匹配任意函数执行错误
	ErrFunctionExecution = &Error{Code: CodeFunctionExecution}
)

// NewSystemError 创建系统错误。
func NewSystemError(format string, args ...any) *Error {
	return &Error{Code: CodeSystemError, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidBodyError 创建请求体错误。
func NewInvalidBodyError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidBody, Message: fmt.Sprintf(format, args...)}
}

// NewFunctionNotFoundError 创建函数不存在错误。
func NewFunctionNotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeFunctionNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewFunctionExecutionError 创建函数执行错误。
func NewFunctionExecutionError(format string, args ...any) *Error {
	return &Error{Code: CodeFunctionExecution, Message: fmt.Sprintf(format, args...)}
}

// AsError 从错误链中提取已知错误。
// 返回 false 表示该错误未被分类，调用方应按系统错误处理。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Classify 将任意错误归一化为已知错误。
// 未分类的错误包装为系统错误，原始消息追加在 "SysErr: " 之后。
// 第二个返回值表示 err 原本是否为已知错误。
func Classify(err error) (*Error, bool) {
	if e, ok := AsError(err); ok {
		return e, true
	}
	return NewSystemError("SysErr: %v", err), false
}
