package loader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/pkg/fn"
	"github.com/sirupsen/logrus/hooks/test"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// section 编码一个模块段，内容长度需小于 128
func section(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func module(sections ...[]byte) []byte {
	out := append([]byte(nil), wasmHeader...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// 类型: 0 = (i32) -> i32, 1 = (i32, i32) -> i64
var abiTypes = section(0x01, 0x02, 0x60, 0x01, 0x7f, 0x01, 0x7f, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e)

var abiExports = section(0x07, concat(
	[]byte{0x03},
	name("memory"), []byte{0x02, 0x00},
	name("alloc"), []byte{0x00, 0x00},
	name("handle"), []byte{0x00, 0x01},
)...)

// allocBody 返回固定地址 1024
var allocBody = []byte{0x05, 0x00, 0x41, 0x80, 0x08, 0x0b}

// resultModule 的 handle 总是返回位于地址 16 的 payload，len(payload) 需小于 128
func resultModule(payload string) []byte {
	handleBody := []byte{0x09, 0x00, 0x42, 0x80 | byte(len(payload)), 0x80, 0x80, 0x80, 0x80, 0x02, 0x0b}
	return module(
		abiTypes,
		section(0x03, 0x02, 0x00, 0x01),
		section(0x05, 0x01, 0x00, 0x01),
		abiExports,
		section(0x0a, concat([]byte{0x02}, allocBody, handleBody)...),
		section(0x0b, concat([]byte{0x01, 0x00, 0x41, 0x10, 0x0b}, name(payload))...),
	)
}

// trapModule 的 handle 执行 unreachable
func trapModule() []byte {
	return module(
		abiTypes,
		section(0x03, 0x02, 0x00, 0x01),
		section(0x05, 0x01, 0x00, 0x01),
		abiExports,
		section(0x0a, concat([]byte{0x02}, allocBody, []byte{0x03, 0x00, 0x00, 0x0b})...),
	)
}

// failModule 的 handle 以地址 16 的消息调用 faasrt.fail，len(msg) 需小于 64
func failModule(msg string) []byte {
	types := section(0x01, 0x03,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e,
		0x60, 0x02, 0x7f, 0x7f, 0x00,
	)
	imports := section(0x02, concat([]byte{0x01}, name(HostModule), name("fail"), []byte{0x00, 0x02})...)
	exports := section(0x07, concat(
		[]byte{0x03},
		name("memory"), []byte{0x02, 0x00},
		name("alloc"), []byte{0x00, 0x01},
		name("handle"), []byte{0x00, 0x02},
	)...)
	handleBody := []byte{0x0a, 0x00, 0x41, 0x10, 0x41, byte(len(msg)), 0x10, 0x00, 0x42, 0x00, 0x0b}
	return module(
		types,
		imports,
		section(0x03, 0x02, 0x00, 0x01),
		section(0x05, 0x01, 0x00, 0x01),
		exports,
		section(0x0a, concat([]byte{0x02}, allocBody, handleBody)...),
		section(0x0b, concat([]byte{0x01, 0x00, 0x41, 0x10, 0x0b}, name(msg))...),
	)
}

// wrongSignatureModule 导出 handle: () -> ()
func wrongSignatureModule() []byte {
	return module(
		section(0x01, 0x01, 0x60, 0x00, 0x00),
		section(0x03, 0x01, 0x00),
		section(0x07, concat([]byte{0x01}, name("handle"), []byte{0x00, 0x00})...),
		section(0x0a, 0x01, 0x02, 0x00, 0x0b),
	)
}

func newWasm(t *testing.T) *WasmBackend {
	t.Helper()
	logger, _ := test.NewNullLogger()
	b, err := NewWasmBackend(context.Background(), WasmOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewWasmBackend: %v", err)
	}
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func writeUnit(t *testing.T, file string, code []byte) *route.Entry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatal(err)
	}
	return route.NewEntry("/"+strings.TrimSuffix(file, ".wasm"), file, path)
}

func TestWasmLoadErrors(t *testing.T) {
	b := newWasm(t)

	tests := []struct {
		name    string
		code    []byte
		want    error
		message string
	}{
		{"not wasm", []byte("definitely not wasm"), domain.ErrFunctionNotFound, "SyntaxError: __api__unit"},
		{"missing handle", module(), domain.ErrFunctionExecution, "missing handler as entry for function(unit)"},
		{"wrong signature", wrongSignatureModule(), domain.ErrFunctionExecution, "handler should be as function type for function(unit)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := writeUnit(t, "unit.wasm", tt.code)
			_, err := b.Load(context.Background(), e)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			de, _ := domain.AsError(err)
			if !strings.HasPrefix(de.Message, tt.message) {
				t.Fatalf("message = %q, want prefix %q", de.Message, tt.message)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		e := route.NewEntry("/gone", "gone.wasm", filepath.Join(t.TempDir(), "gone.wasm"))
		_, err := b.Load(context.Background(), e)
		if !errors.Is(err, domain.ErrFunctionNotFound) {
			t.Fatalf("err = %v", err)
		}
		if de, _ := domain.AsError(err); !strings.HasPrefix(de.Message, "ModuleNotFoundError: __api__gone") {
			t.Fatalf("message = %q", de.Message)
		}
	})
}

func TestWasmInvoke(t *testing.T) {
	b := newWasm(t)
	e := writeUnit(t, "hello.wasm", resultModule(`{"msg":"hi"}`))

	h, err := b.Load(context.Background(), e)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	input, _ := fn.ParseValue([]byte(`{"name":"faasrt"}`))
	got, err := h(context.Background(), &fn.Args{Input: input})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	raw, ok := got.(json.RawMessage)
	if !ok {
		t.Fatalf("result type = %T", got)
	}
	if string(raw) != `{"msg":"hi"}` {
		t.Fatalf("result = %s", raw)
	}
}

func TestWasmConcurrentInstances(t *testing.T) {
	b := newWasm(t)
	e := writeUnit(t, "hello.wasm", resultModule(`[1,2,3]`))
	h, err := b.Load(context.Background(), e)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h(context.Background(), &fn.Args{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call: %v", err)
	}
}

func TestWasmUserErrors(t *testing.T) {
	b := newWasm(t)

	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"trap", trapModule(), "unreachable"},
		{"fail", failModule("bad input"), "bad input"},
		{"not json", resultModule("hello world"), "not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := writeUnit(t, "unit.wasm", tt.code)
			h, err := b.Load(context.Background(), e)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			_, err = callHandler(context.Background(), h, &fn.Args{})
			if !errors.Is(err, domain.ErrFunctionExecution) {
				t.Fatalf("err = %v, want execution error", err)
			}
			de, _ := domain.AsError(err)
			if !strings.HasPrefix(de.Message, "UserFuncExecErr: ") || !strings.Contains(de.Message, tt.want) {
				t.Fatalf("message = %q, want it to mention %q", de.Message, tt.want)
			}
		})
	}
}
