package loader

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// apiDir 之前的路径前缀在堆栈中被隐去
const apiDir = "/api/"

var callHandlerName string

func init() {
	callHandlerName = runtime.FuncForPC(reflect.ValueOf(callHandler).Pointer()).Name()
}

// panicStack 返回 panic 发生处到 callHandler 之间的用户堆栈。
// 必须在 recover 所在的 defer 函数中调用。
func panicStack() string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		if f.Function == callHandlerName {
			break
		}
		if !strings.HasPrefix(f.Function, "runtime.") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, redact(f.File), f.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func redact(file string) string {
	if i := strings.Index(file, apiDir); i >= 0 {
		return file[i+len(apiDir):]
	}
	return file
}
