// Package host 提供运行时的宿主适配器。
//
// 每个适配器把各自的原生事件（本地 HTTP 请求、平台事件、NATS 消息）转换为
// domain.InvokeRequest，交给入口处理器，再把 domain.InvokeResponse 写回原生通道。
package host

import (
	"context"
	"fmt"

	"github.com/oriys/faasrt/internal/domain"
)

// Runtime 是宿主适配器依赖的运行时能力，由 *app.App 实现。
type Runtime interface {
	EntryHandler(ctx context.Context, req domain.InvokeRequest) domain.InvokeResponse
	Manifest() string
	RequestIDHeader() string
}

// failedResponse 为无法转换为调用请求的事件构造系统错误响应。
func failedResponse(err error) domain.InvokeResponse {
	known, _ := domain.Classify(err)
	var body domain.ResponseBody
	body.Fail(known)
	return domain.InvokeResponse{
		StatusCode: 200,
		Headers:    map[string]string{},
		Body:       body.String(),
	}
}

func invalidEvent(err error) error {
	return fmt.Errorf("invalid event: %w", err)
}
