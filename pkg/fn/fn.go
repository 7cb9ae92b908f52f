// Package fn 定义用户函数与运行时之间的调用契约。
//
// 一个函数实现单元只需暴露一个入口 Handler：
//
//	var Handler fn.Handler = func(ctx context.Context, args *fn.Args) (any, error) {
//	    name, _ := args.Input.Get("name").String()
//	    args.Logger.Info("hello ", name)
//	    return map[string]string{"msg": "hi " + name}, nil
//	}
//
// 返回值必须可以被 JSON 编码；返回的 error 或 panic 会被运行时包装为函数执行错误。
package fn

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Handler 是函数实现单元的入口。
// ctx 携带本次请求的调用上下文，在请求结束后失效。
type Handler func(ctx context.Context, args *Args) (any, error)

// Args 是传递给 Handler 的参数对象。
type Args struct {
	// Input 请求体中 input 字段的只读视图，缺失的键返回空值而不是报错
	Input Value
	// Logger 用户日志通道，输出的日志会自动带上 request_id 等请求信息
	Logger *logrus.Entry
}
