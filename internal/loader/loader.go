// Package loader 负责按需加载路由对应的函数实现单元，并调用用户函数。
//
// 每个路由的实现单元在进程生命周期内最多成功加载一次：
// 已加载的函数保存在 route.Entry 上，后续调用直接复用；
// 同一路由的并发首次加载通过 singleflight 合并，加载失败不会被缓存，下一次调用会重新加载。
//
// 实现单元的类型由文件扩展名决定：
//   - .wasm: 由 wazero 执行的 WebAssembly 模块（见 WasmBackend）
//   - .so:   Go plugin（见 PluginBackend）
//   - 其他:  进程内注册表（见 Registry）
package loader

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/invocation"
	"github.com/oriys/faasrt/internal/metrics"
	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/internal/timing"
	"github.com/oriys/faasrt/pkg/fn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Backend 将一个实现单元加载为可调用的函数。
// 返回的错误应当是 domain.Error，用于区分"单元不存在"与"入口不满足契约"。
type Backend interface {
	Load(ctx context.Context, e *route.Entry) (fn.Handler, error)
}

// BackendFunc 是函数形式的 Backend。
type BackendFunc func(ctx context.Context, e *route.Entry) (fn.Handler, error)

// Load 实现 Backend。
func (f BackendFunc) Load(ctx context.Context, e *route.Entry) (fn.Handler, error) {
	return f(ctx, e)
}

// Options 加载器参数。
type Options struct {
	// Registry 进程内注册表，作为未匹配扩展名时的默认后端，为空时创建空注册表
	Registry *Registry
	// Wasm WebAssembly 后端，为空时 .wasm 文件交给注册表处理
	Wasm *WasmBackend
	// Logger 系统日志
	Logger *logrus.Logger
	// Metrics 指标，可为空
	Metrics *metrics.Metrics
	// Tracer 追踪器，为空时使用全局追踪提供者
	Tracer trace.Tracer
}

// Loader 按需加载并调用用户函数。
type Loader struct {
	mu       sync.RWMutex
	backends map[string]Backend
	fallback Backend
	wasm     *WasmBackend

	group   singleflight.Group
	logger  *logrus.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New 创建加载器。
func New(opts Options) *Loader {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("faasrt/loader")
	}
	l := &Loader{
		backends: map[string]Backend{".so": PluginBackend{}},
		fallback: opts.Registry,
		wasm:     opts.Wasm,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
	if opts.Wasm != nil {
		l.backends[".wasm"] = opts.Wasm
	}
	return l
}

// Register 为扩展名（如 ".wasm"）注册后端，覆盖已有后端。
func (l *Loader) Register(ext string, b Backend) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backends[strings.ToLower(ext)] = b
}

func (l *Loader) backendFor(e *route.Entry) Backend {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.backends[strings.ToLower(filepath.Ext(e.File))]; ok {
		return b
	}
	return l.fallback
}

// Resolve 返回路由对应的函数，必要时加载实现单元。
//
// 已加载的路由直接返回，不记录加载耗时。未加载时本次请求记录 fn-load：
// 同一单元（单元名称与实现文件均相同）的并发加载只执行一次，等待者共享结果。
func (l *Loader) Resolve(ctx context.Context, e *route.Entry) (fn.Handler, error) {
	if h, ok := e.Handler(); ok {
		return h, nil
	}
	if sw := invocation.StopwatchFrom(ctx); sw != nil {
		defer sw.Start(timing.PhaseLoad)()
	}

	ctx, span := l.tracer.Start(ctx, "fn.load", trace.WithAttributes(
		attribute.String("faasrt.route", e.Route),
		attribute.String("faasrt.unit", e.Unit),
	))
	defer span.End()

	// 加载结果由所有等待者共享，不受发起者取消的影响
	loadCtx := context.WithoutCancel(ctx)
	v, err, shared := l.group.Do(e.Unit+"\x00"+e.Path, func() (any, error) {
		if h, ok := e.Handler(); ok {
			return h, nil
		}
		return l.load(loadCtx, e)
	})
	span.SetAttributes(attribute.Bool("faasrt.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// 等待者把共享的结果发布到自己的条目上
	return e.MarkLoaded(v.(fn.Handler)), nil
}

func (l *Loader) load(ctx context.Context, e *route.Entry) (fn.Handler, error) {
	start := time.Now()
	h, err := l.backendFor(e).Load(ctx, e)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	fields := logrus.Fields{"route": e.Route, "unit": e.Unit, "file": e.Path}
	if err != nil {
		code := string(domain.CodeSystemError)
		if de, ok := domain.AsError(err); ok {
			code = string(de.Code)
		}
		l.metrics.RecordLoad(e.Route, code, elapsed)
		l.logger.WithContext(ctx).WithFields(fields).WithError(err).Debug("load function failed")
		return nil, err
	}
	l.metrics.RecordLoad(e.Route, "", elapsed)
	l.logger.WithContext(ctx).WithFields(fields).WithField("duration_ms", elapsed).Info("function loaded")
	return e.MarkLoaded(h), nil
}

// Invoke 解析路由对应的函数并调用。
//
// 用户函数返回的错误与 panic 都被包装为函数执行错误；
// 加载与执行阶段的耗时无论成功与否都会被记录。
func (l *Loader) Invoke(ctx context.Context, e *route.Entry, args *fn.Args) (any, error) {
	h, err := l.Resolve(ctx, e)
	if err != nil {
		return nil, err
	}
	return l.run(ctx, e, h, args)
}

func (l *Loader) run(ctx context.Context, e *route.Entry, h fn.Handler, args *fn.Args) (any, error) {
	start := time.Now()
	if sw := invocation.StopwatchFrom(ctx); sw != nil {
		defer sw.Start(timing.PhaseRun)()
	}
	ctx, span := l.tracer.Start(ctx, "fn.run", trace.WithAttributes(
		attribute.String("faasrt.route", e.Route),
		attribute.String("faasrt.unit", e.Unit),
	))
	defer span.End()

	result, err := callHandler(ctx, h, args)
	l.metrics.RecordRun(e.Route, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// callHandler 调用用户函数，用户代码中的 panic 与错误都不会原样向上传播。
func callHandler(ctx context.Context, h fn.Handler, args *fn.Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = domain.NewFunctionExecutionError("UserFuncExecErr: %v\n%s", r, panicStack())
		}
	}()
	result, err = h(ctx, args)
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return nil, err
		}
		return nil, domain.NewFunctionExecutionError("UserFuncExecErr: %v", err)
	}
	return result, nil
}

// Close 释放后端持有的资源。
func (l *Loader) Close(ctx context.Context) error {
	if l.wasm != nil {
		return l.wasm.Close(ctx)
	}
	return nil
}
