// Package invocation 管理单次请求范围内的调用上下文。
//
// 调用上下文通过 context.Context 显式向下传递，而不是放在进程级全局变量中，
// 因此并发请求之间互不可见。上下文在入口处理器开始时创建，结束时清理（包括出错路径）。
package invocation

import (
	"context"
	"sync"

	"github.com/oriys/faasrt/internal/timing"
)

// 上下文中常用的键
const (
	// KeyRequestID 请求 ID
	KeyRequestID = "request_id"
	// KeyRuntimeEvent 平台附带的运行时事件元数据
	KeyRuntimeEvent = "runtime_event"
)

// Invocation 保存单个请求的状态。
// 用户函数可能在自己启动的协程中写日志，所以读写都加锁。
type Invocation struct {
	mu        sync.RWMutex
	values    map[string]any
	stopwatch *timing.Stopwatch
	closed    bool
}

type ctxKey struct{}

// Init 为当前请求创建全新的调用上下文并安装新的 Stopwatch。
func Init(ctx context.Context) (context.Context, *Invocation) {
	inv := &Invocation{
		values:    make(map[string]any),
		stopwatch: timing.NewStopwatch(),
	}
	return context.WithValue(ctx, ctxKey{}, inv), inv
}

// From 取出 ctx 中的调用上下文，未初始化或已清理时返回 nil。
func From(ctx context.Context) *Invocation {
	if ctx == nil {
		return nil
	}
	inv, _ := ctx.Value(ctxKey{}).(*Invocation)
	if inv == nil || inv.isClosed() {
		return nil
	}
	return inv
}

// Clear 释放 ctx 中的调用上下文，之后的读取都返回"不存在"。
func Clear(ctx context.Context) {
	if inv, _ := ctx.Value(ctxKey{}).(*Invocation); inv != nil {
		inv.mu.Lock()
		inv.values = nil
		inv.closed = true
		inv.mu.Unlock()
	}
}

// Get 读取上下文中的值。
func Get(ctx context.Context, key string) (any, bool) {
	inv := From(ctx)
	if inv == nil {
		return nil, false
	}
	return inv.Get(key)
}

// Set 写入上下文中的值，上下文不存在时忽略。
func Set(ctx context.Context, key string, value any) {
	if inv := From(ctx); inv != nil {
		inv.Set(key, value)
	}
}

// SetRequestID 设置请求 ID。
func SetRequestID(ctx context.Context, id string) {
	Set(ctx, KeyRequestID, id)
}

// RequestID 返回请求 ID，未设置时返回空字符串与 false。
func RequestID(ctx context.Context) (string, bool) {
	v, ok := Get(ctx, KeyRequestID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// RuntimeEvent 返回运行时事件元数据。
func RuntimeEvent(ctx context.Context) (map[string]any, bool) {
	v, ok := Get(ctx, KeyRuntimeEvent)
	if !ok {
		return nil, false
	}
	ev, ok := v.(map[string]any)
	return ev, ok
}

// StopwatchFrom 返回当前请求的计时器，上下文不存在时返回 nil。
func StopwatchFrom(ctx context.Context) *timing.Stopwatch {
	if inv := From(ctx); inv != nil {
		return inv.Stopwatch()
	}
	return nil
}

// Get 读取值。
func (i *Invocation) Get(key string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.values[key]
	return v, ok
}

// Set 写入值，已清理的上下文忽略写入。
func (i *Invocation) Set(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.values[key] = value
}

// Stopwatch 返回本次请求的计时器。
func (i *Invocation) Stopwatch() *timing.Stopwatch {
	return i.stopwatch
}

func (i *Invocation) isClosed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.closed
}
