// Package main 是 faasrt 函数运行时的入口点。
// faasrt 按 manifest 把请求路由到函数实现单元，并以宿主适配器的形式运行在
// 本地 HTTP 代理、托管平台事件入口或 NATS 队列之上。
package main

import (
	"os"

	"github.com/oriys/faasrt/cmd/faasrt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
