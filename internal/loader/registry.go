package loader

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/pkg/fn"
)

// Registry 是进程内的实现单元注册表，按 manifest 中的 file 字段索引函数。
// 用于把运行时嵌入到 Go 程序中：在初始化前注册函数，manifest 中引用同名 file 即可。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]fn.Handler
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]fn.Handler)}
}

// Register 注册函数，file 与 manifest 中的 file 字段对应，重复注册覆盖之前的函数。
func (r *Registry) Register(file string, h fn.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[filepath.Clean(file)] = h
}

// Files 返回已注册的 file 列表（已排序）。
func (r *Registry) Files() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for f := range r.handlers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Load 实现 Backend。
func (r *Registry) Load(_ context.Context, e *route.Entry) (fn.Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[filepath.Clean(e.File)]
	r.mu.RUnlock()
	if !ok {
		return nil, moduleNotFound(e, errors.New("no handler registered for "+e.File))
	}
	if h == nil {
		return nil, invalidEntry(e)
	}
	return h, nil
}
