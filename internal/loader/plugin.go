package loader

import (
	"context"
	"os"
	"plugin"

	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/pkg/fn"
)

// EntrySymbol 是 Go plugin 中入口函数的符号名
const EntrySymbol = "Handler"

// PluginBackend 通过 Go plugin (.so) 加载实现单元。
// 入口符号 Handler 可以是 fn.Handler 类型的变量，也可以是签名相同的函数。
type PluginBackend struct{}

// Load 实现 Backend。
func (PluginBackend) Load(_ context.Context, e *route.Entry) (fn.Handler, error) {
	if _, err := os.Stat(e.Path); err != nil {
		return nil, moduleNotFound(e, err)
	}
	p, err := plugin.Open(e.Path)
	if err != nil {
		return nil, syntaxError(e, err)
	}
	sym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return nil, missingEntry(e)
	}
	return handlerFromSymbol(e, sym)
}

func handlerFromSymbol(e *route.Entry, sym plugin.Symbol) (fn.Handler, error) {
	var h fn.Handler
	switch v := sym.(type) {
	case *fn.Handler:
		if v != nil {
			h = *v
		}
	case fn.Handler:
		h = v
	case func(context.Context, *fn.Args) (any, error):
		h = v
	case *func(context.Context, *fn.Args) (any, error):
		if v != nil {
			h = *v
		}
	}
	if h == nil {
		return nil, invalidEntry(e)
	}
	return h, nil
}
