// Package domain 定义了函数运行时的核心领域模型。
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RunType 表示运行时所处的宿主环境。
// 不同宿主的事件结构、默认日志格式不同，但都通过 InvokeRequest/InvokeResponse 与运行时交互。
type RunType string

// 宿主类型常量定义
const (
	// RunTypeProxy 表示本地 HTTP 代理（开发模式，每次启动都是冷启动）
	RunTypeProxy RunType = "proxy"
	// RunTypeAWS 表示 AWS Lambda 风格的托管平台
	RunTypeAWS RunType = "aws"
	// RunTypeVeFaaS 表示 VeFaaS 风格的托管平台
	RunTypeVeFaaS RunType = "vefaas"
)

// ParseRunType 解析宿主类型字符串，大小写不敏感。
func ParseRunType(s string) (RunType, error) {
	switch RunType(strings.ToLower(strings.TrimSpace(s))) {
	case "", RunTypeProxy:
		return RunTypeProxy, nil
	case RunTypeAWS:
		return RunTypeAWS, nil
	case RunTypeVeFaaS:
		return RunTypeVeFaaS, nil
	}
	return "", fmt.Errorf("unknown run type %q", s)
}

// InvokeRequest 是宿主适配器产生的通用调用请求。
// 该值一经构造即不再修改，由入口处理器消费一次。
type InvokeRequest struct {
	// Version 协议版本
	Version int `json:"version"`
	// Protocol 原始协议，如 HTTP
	Protocol string `json:"protocol,omitempty"`
	// Method 请求方法
	Method string `json:"method,omitempty"`
	// URL 请求路径，用于路由匹配
	URL string `json:"url,omitempty"`
	// Headers 请求头
	Headers map[string]string `json:"headers,omitempty"`
	// Body 请求体，nil 表示没有请求体
	Body *string `json:"body,omitempty"`
	// IsBase64Encoded 表示 Body 是否经过 base64 编码
	IsBase64Encoded bool `json:"isBase64Encoded"`
}

// Header 按名称读取请求头，名称大小写不敏感。
func (r InvokeRequest) Header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// InvokeResponse 是每个请求唯一产生的通用调用响应。
type InvokeResponse struct {
	// StatusCode HTTP 状态码，运行时始终返回 200，错误信息位于信封中
	StatusCode int `json:"statusCode"`
	// Headers 响应头，包含耗时相关的响应头
	Headers map[string]string `json:"headers"`
	// Body JSON 编码后的响应信封
	Body string `json:"body"`
	// IsBase64Encoded 表示 Body 是否经过 base64 编码
	IsBase64Encoded bool `json:"isBase64Encoded"`
}

// ResponseBody 是统一的响应信封。
// data 与 {code, message} 二选一，序列化时由 MarshalJSON 保证不会同时出现。
type ResponseBody struct {
	// Data 用户函数返回值的 JSON 编码字符串
	Data string
	// Code 错误码，为空表示成功
	Code Code
	// Message 错误描述，仅在 Code 非空时输出
	Message string
}

// Fail 将信封设置为错误分支。
func (b *ResponseBody) Fail(err *Error) {
	b.Code = err.Code
	b.Message = err.Message
}

// Failed 返回信封是否为错误分支。
func (b *ResponseBody) Failed() bool {
	return b.Code != ""
}

// MarshalJSON 输出信封：Code 非空时只输出 code/message，否则只输出 data。
func (b ResponseBody) MarshalJSON() ([]byte, error) {
	if b.Failed() {
		return marshalNoEscape(struct {
			Code    Code   `json:"code"`
			Message string `json:"message"`
		}{b.Code, b.Message})
	}
	return marshalNoEscape(struct {
		Data string `json:"data"`
	}{b.Data})
}

// String 返回信封的 JSON 文本。
func (b ResponseBody) String() string {
	data, err := b.MarshalJSON()
	if err != nil {
		// 信封字段均为字符串，理论上不会失败
		return fmt.Sprintf(`{"code":%q,"message":%q}`, CodeSystemError, err.Error())
	}
	return string(data)
}

// MarshalResult 编码用户函数返回值，不转义 HTML 字符。
// 分隔符使用 ", " 与 ": "，与平台客户端解析的 data 格式一致，例如 {"msg": "hi"}。
func MarshalResult(v any) (string, error) {
	data, err := marshalNoEscape(v)
	if err != nil {
		return "", err
	}
	return string(spaceSeparators(data)), nil
}

// spaceSeparators 在紧凑 JSON 中字符串之外的 "," 与 ":" 后补一个空格。
func spaceSeparators(compact []byte) []byte {
	out := make([]byte, 0, len(compact)+len(compact)/8)
	inString, escaped := false, false
	for _, c := range compact {
		out = append(out, c)
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == ',' || c == ':':
			out = append(out, ' ')
		}
	}
	return out
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
