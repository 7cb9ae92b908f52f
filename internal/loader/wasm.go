package loader

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/pkg/fn"
	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WebAssembly 实现单元的导出与导入名称
const (
	// HostModule 运行时提供给模块的导入模块名
	HostModule = "faasrt"
	// ExportHandle 入口函数 handle(ptr, len i32) i64，返回值为 ptr<<32 | len
	ExportHandle = "handle"
	// ExportAlloc 内存分配函数 alloc(size i32) i32
	ExportAlloc = "alloc"
	// ExportMemory 线性内存
	ExportMemory = "memory"
)

// WasmOptions WebAssembly 后端参数。
type WasmOptions struct {
	// CacheDir 编译缓存目录，为空时不启用磁盘缓存
	CacheDir string
	// Logger 模块输出的默认日志，调用参数未携带用户日志时使用
	Logger *logrus.Logger
}

// WasmBackend 使用 wazero 加载并执行 WebAssembly 实现单元。
//
// 加载时编译模块并校验导出，随后进行一次探测实例化以尽早暴露初始化错误。
// 每次调用都创建新的匿名实例，实例之间不共享线性内存。
type WasmBackend struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	logger  *logrus.Logger
}

type callStateKey struct{}

// callState 保存单次调用的宿主状态，通过 ctx 传递给宿主函数
type callState struct {
	logger  *logrus.Entry
	failed  bool
	message string
}

// NewWasmBackend 创建 WebAssembly 后端并注册宿主模块与 WASI。
func NewWasmBackend(ctx context.Context, opts WasmOptions) (*WasmBackend, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	b := &WasmBackend{logger: opts.Logger}

	cfg := wazero.NewRuntimeConfig()
	if opts.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open wasm compilation cache %s: %w", opts.CacheDir, err)
		}
		b.cache = cache
		cfg = cfg.WithCompilationCache(cache)
	}
	b.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.runtime); err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}
	_, err := b.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(hostLog).Export("log").
		NewFunctionBuilder().WithFunc(hostFail).Export("fail").
		Instantiate(ctx)
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return b, nil
}

// Load 实现 Backend。
func (b *WasmBackend) Load(ctx context.Context, e *route.Entry) (fn.Handler, error) {
	code, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, moduleNotFound(e, err)
	}
	compiled, err := b.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, syntaxError(e, err)
	}
	if err := validateExports(e, compiled); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	probe, err := b.runtime.InstantiateModule(ctx, compiled, b.moduleConfig(logrus.NewEntry(b.logger)))
	if err != nil {
		compiled.Close(ctx)
		return nil, syntaxError(e, err)
	}
	probe.Close(ctx)

	return b.handler(compiled), nil
}

func validateExports(e *route.Entry, compiled wazero.CompiledModule) error {
	funcs := compiled.ExportedFunctions()
	handle, ok := funcs[ExportHandle]
	if !ok {
		return missingEntry(e)
	}
	if !signature(handle, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}) {
		return invalidEntry(e)
	}
	alloc, ok := funcs[ExportAlloc]
	if !ok || !signature(alloc, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}) {
		return invalidEntry(e)
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return invalidEntry(e)
	}
	return nil
}

func signature(def api.FunctionDefinition, params, results []api.ValueType) bool {
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (b *WasmBackend) moduleConfig(logger *logrus.Entry) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStdout(logWriter{entry: logger, level: logrus.InfoLevel}).
		WithStderr(logWriter{entry: logger, level: logrus.ErrorLevel}).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
}

func (b *WasmBackend) handler(compiled wazero.CompiledModule) fn.Handler {
	return func(ctx context.Context, args *fn.Args) (any, error) {
		logger := args.Logger
		if logger == nil {
			logger = logrus.NewEntry(b.logger)
		}
		input, err := json.Marshal(args.Input)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}

		state := &callState{logger: logger.WithContext(ctx)}
		ctx = context.WithValue(ctx, callStateKey{}, state)

		mod, err := b.runtime.InstantiateModule(ctx, compiled, b.moduleConfig(state.logger))
		if err != nil {
			return nil, err
		}
		defer mod.Close(ctx)

		res, err := mod.ExportedFunction(ExportAlloc).Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, err
		}
		ptr := uint32(res[0])
		if !mod.Memory().Write(ptr, input) {
			return nil, fmt.Errorf("input buffer out of range: ptr=%d len=%d", ptr, len(input))
		}

		res, err = mod.ExportedFunction(ExportHandle).Call(ctx, uint64(ptr), uint64(len(input)))
		if state.failed {
			return nil, errors.New(state.message)
		}
		if err != nil {
			return nil, err
		}

		outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
		out, ok := mod.Memory().Read(outPtr, outLen)
		if !ok {
			return nil, fmt.Errorf("result out of range: ptr=%d len=%d", outPtr, outLen)
		}
		if !json.Valid(out) {
			return nil, fmt.Errorf("result is not valid JSON: %q", out)
		}
		return json.RawMessage(append([]byte(nil), out...)), nil
	}
}

// Close 关闭 wazero 运行时与编译缓存。
func (b *WasmBackend) Close(ctx context.Context) error {
	var err error
	if b.runtime != nil {
		err = b.runtime.Close(ctx)
	}
	if b.cache != nil {
		if cerr := b.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

func stateFrom(ctx context.Context) *callState {
	s, _ := ctx.Value(callStateKey{}).(*callState)
	return s
}

// hostLog 实现 faasrt.log(level, ptr, len)，level 与日志记录中的数字级别一致。
func hostLog(ctx context.Context, m api.Module, level, ptr, size uint32) {
	s := stateFrom(ctx)
	if s == nil {
		return
	}
	msg, ok := m.Memory().Read(ptr, size)
	if !ok {
		return
	}
	s.logger.Log(wasmLevel(level), string(msg))
}

// hostFail 实现 faasrt.fail(ptr, len)，将本次调用标记为失败。
func hostFail(ctx context.Context, m api.Module, ptr, size uint32) {
	s := stateFrom(ctx)
	if s == nil {
		return
	}
	msg, _ := m.Memory().Read(ptr, size)
	s.failed = true
	s.message = string(msg)
}

func wasmLevel(level uint32) logrus.Level {
	switch level {
	case 0:
		return logrus.TraceLevel
	case 1:
		return logrus.DebugLevel
	case 2:
		return logrus.InfoLevel
	case 3:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// logWriter 将模块的标准输出按行写入日志
type logWriter struct {
	entry *logrus.Entry
	level logrus.Level
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.entry.Log(w.level, line)
		}
	}
	return len(p), nil
}
