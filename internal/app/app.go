// Package app 实现函数运行时的入口处理器。
//
// App 持有路由表、加载器与进程级计时器。宿主适配器把各自的原生事件转换为
// domain.InvokeRequest 后交给 EntryHandler，每个请求都恰好得到一个响应信封和一组耗时响应头。
package app

import (
	"context"
	"fmt"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/loader"
	"github.com/oriys/faasrt/internal/logging"
	"github.com/oriys/faasrt/internal/metrics"
	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/internal/timing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// 默认请求头名称
const (
	// DefaultRequestIDHeader 请求 ID 请求头
	DefaultRequestIDHeader = "x-bizide-request-id"
	// DefaultEventHeader 运行时事件请求头，内容为 JSON
	DefaultEventHeader = "x-runtime-event"
)

// Options 应用参数。
type Options struct {
	// Root 项目根目录
	Root string
	// Manifest manifest 文件名，相对于 Root，为空时使用 manifest.json
	Manifest string
	// RunType 宿主类型
	RunType domain.RunType
	// RequestIDHeader 请求 ID 请求头名称
	RequestIDHeader string
	// EventHeader 运行时事件请求头名称
	EventHeader string
	// Loggers 系统与用户日志，为空时按 RunType 创建
	Loggers logging.Channels
	// Registry 进程内函数注册表
	Registry *loader.Registry
	// WasmCacheDir WebAssembly 编译缓存目录
	WasmCacheDir string
	// Metrics 指标，可为空
	Metrics *metrics.Metrics
	// Tracer 追踪器，可为空
	Tracer trace.Tracer
}

// App 是函数运行时应用。
type App struct {
	opts    Options
	proc    *timing.Process
	table   *route.Table
	loader  *loader.Loader
	sys     *logrus.Logger
	user    *logrus.Logger
	metrics *metrics.Metrics
}

// New 创建应用并标记项目初始化开始，需调用 Init 完成初始化。
func New(opts Options) *App {
	if opts.RunType == "" {
		opts.RunType = domain.RunTypeProxy
	}
	if opts.RequestIDHeader == "" {
		opts.RequestIDHeader = DefaultRequestIDHeader
	}
	if opts.EventHeader == "" {
		opts.EventHeader = DefaultEventHeader
	}
	if opts.Loggers.System == nil || opts.Loggers.User == nil {
		opts.Loggers = logging.NewChannels(logging.Options{RunType: opts.RunType})
	}
	if opts.Registry == nil {
		opts.Registry = loader.NewRegistry()
	}

	proc := timing.NewProcess()
	proc.ProjectInitStart()
	return &App{
		opts:    opts,
		proc:    proc,
		table:   route.Parse(nil, opts.Root, opts.Loggers.System),
		sys:     opts.Loggers.System,
		user:    opts.Loggers.User,
		metrics: opts.Metrics,
	}
}

// Init 加载 manifest、构建路由表并创建加载器，之后才能处理请求。
// manifest 缺失或格式错误不会导致失败，仅在加载器后端无法创建时返回错误。
func (a *App) Init(ctx context.Context) error {
	a.sys.Infof("project path: %s", a.opts.Root)

	wasm, err := loader.NewWasmBackend(ctx, loader.WasmOptions{
		CacheDir: a.opts.WasmCacheDir,
		Logger:   a.user,
	})
	if err != nil {
		return fmt.Errorf("failed to init wasm backend: %w", err)
	}
	a.loader = loader.New(loader.Options{
		Registry: a.opts.Registry,
		Wasm:     wasm,
		Logger:   a.sys,
		Metrics:  a.metrics,
		Tracer:   a.opts.Tracer,
	})
	a.table = route.Load(a.opts.Root, a.opts.Manifest, a.sys)

	a.proc.ProjectInitEnd()
	a.metrics.SetColdStart(float64(a.proc.ColdStart().Microseconds()) / 1000)
	a.metrics.SetRoutes(a.table.Len())
	return nil
}

// Close 释放加载器资源。
func (a *App) Close(ctx context.Context) error {
	if a.loader == nil {
		return nil
	}
	return a.loader.Close(ctx)
}

// Manifest 返回 manifest 原始文本。
func (a *App) Manifest() string {
	return a.table.Raw()
}

// Routes 按 manifest 顺序返回路由条目。
func (a *App) Routes() []*route.Entry {
	return a.table.Entries()
}

// RunType 返回宿主类型。
func (a *App) RunType() domain.RunType {
	return a.opts.RunType
}

// RequestIDHeader 返回请求 ID 请求头名称。
func (a *App) RequestIDHeader() string {
	return a.opts.RequestIDHeader
}

// Loggers 返回系统与用户日志。
func (a *App) Loggers() logging.Channels {
	return a.opts.Loggers
}

// Process 返回进程级计时器。
func (a *App) Process() *timing.Process {
	return a.proc
}
