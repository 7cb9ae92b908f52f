// Package route 负责解析 manifest 并构建只读的路由表。
//
// manifest 结构：
//
//	{"api": [{"route": "/hello", "file": "api/hello.wasm"}, ...]}
//
// 路由表在开始处理请求前构建完成，之后只读，可以无锁并发访问。
// 唯一的可变状态是每个路由条目上"已加载的函数"，它最多被成功写入一次。
package route

import (
	"strings"
	"sync/atomic"

	"github.com/oriys/faasrt/pkg/fn"
)

// UnitPrefix 是函数实现单元名称的前缀
const UnitPrefix = "__api__"

// Normalize 去掉路径开头的一个斜杠。
// manifest 中声明的路由与请求路径都使用同一规则归一化。
func Normalize(path string) string {
	return strings.TrimPrefix(path, "/")
}

// unitEscaper 先转义 "%" 与 "."，使名称中的 "." 只可能来自路由里的 "/"。
var unitEscaper = strings.NewReplacer("%", "%25", ".", "%2e", "/", ".")

// UnitName 根据归一化后的路由生成确定性的实现单元名称。
// 映射是单射：不同路由的名称互不相同，同一路由重复加载时复用同一名称。
// 例如 "a/b" 得到 "__api__a.b"，"a.b" 得到 "__api__a%2eb"。
func UnitName(route string) string {
	return UnitPrefix + unitEscaper.Replace(route)
}

type loaded struct {
	handler fn.Handler
}

// Entry 是路由表中的一个条目。
type Entry struct {
	// Route 归一化后的路由（不含开头的斜杠）
	Route string
	// File manifest 中声明的实现文件（相对于项目根目录）
	File string
	// Path 实现文件的完整路径
	Path string
	// Unit 实现单元名称
	Unit string

	handler atomic.Pointer[loaded]
}

// NewEntry 创建路由条目。
func NewEntry(route, file, path string) *Entry {
	r := Normalize(route)
	return &Entry{Route: r, File: file, Path: path, Unit: UnitName(r)}
}

// Handler 返回已加载的函数；尚未加载时返回 false。
func (e *Entry) Handler() (fn.Handler, bool) {
	if l := e.handler.Load(); l != nil {
		return l.handler, true
	}
	return nil, false
}

// Loaded 表示该路由是否已成功加载。
func (e *Entry) Loaded() bool {
	return e.handler.Load() != nil
}

// MarkLoaded 发布加载成功的函数。
// 只有第一次写入生效，返回最终被采用的函数，并发的重复加载不会覆盖已有结果。
func (e *Entry) MarkLoaded(h fn.Handler) fn.Handler {
	if e.handler.CompareAndSwap(nil, &loaded{handler: h}) {
		return h
	}
	return e.handler.Load().handler
}
