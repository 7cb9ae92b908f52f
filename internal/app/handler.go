package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/invocation"
	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/internal/timing"
	"github.com/oriys/faasrt/pkg/fn"
)

// EntryHandler 处理一次调用请求。
//
// 处理流程：初始化调用上下文 → （manifest 查看路径直接返回）→ 构造参数 → 解析请求头
// → 分发并调用用户函数 → 组装信封 → 输出耗时响应头 → 清理调用上下文。
// 任何出错路径都会产生信封与耗时响应头，调用上下文总会被清理。
func (a *App) EntryHandler(ctx context.Context, req domain.InvokeRequest) domain.InvokeResponse {
	ctx, inv := invocation.Init(ctx)
	defer invocation.Clear(ctx)
	sw := inv.Stopwatch()

	if req.URL == route.ManifestPath {
		return a.respond(sw, route.ManifestPath, "", a.table.Raw())
	}

	var body domain.ResponseBody
	data, err := a.dispatch(ctx, req)
	if err == nil {
		body.Data = data
	} else {
		known, ok := domain.Classify(err)
		if ok {
			a.user.WithContext(ctx).Errorf("user error %s %s", req.URL, known.Message)
		} else {
			a.sys.WithContext(ctx).Errorf("SysErr %s %v", req.URL, err)
		}
		body.Fail(known)
	}
	return a.respond(sw, a.routeLabel(req.URL), body.Code, body.String())
}

// routeLabel 返回指标使用的路由标签，未命中路由表时为空。
func (a *App) routeLabel(url string) string {
	if e, ok := a.table.Lookup(url); ok {
		return e.Route
	}
	return ""
}

func (a *App) respond(sw *timing.Stopwatch, routeName string, code domain.Code, body string) domain.InvokeResponse {
	sw.Finish()
	headers := sw.Headers(a.proc)
	if a.metrics != nil {
		total, _ := sw.Duration(timing.PhaseTotal)
		_, cold := sw.Duration(timing.PhaseInit)
		a.metrics.RecordInvocation(routeName, string(code), float64(total), cold)
	}
	return domain.InvokeResponse{
		StatusCode: 200,
		Headers:    headers,
		Body:       body,
	}
}

// dispatch 执行参数构造、请求头解析与函数调用，返回编码后的结果。
// 运行时自身的 panic 被转换为未分类错误，堆栈只写入系统日志。
func (a *App) dispatch(ctx context.Context, req domain.InvokeRequest) (data string, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.sys.WithContext(ctx).WithField("stack", string(debug.Stack())).Errorf("runtime panic %s %v", req.URL, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	args, err := a.buildArgs(ctx, req)
	if err != nil {
		return "", err
	}
	a.parseHeaders(ctx, req)

	a.sys.WithContext(ctx).Infof("invoke %s", req.URL)
	entry, ok := a.table.Lookup(req.URL)
	if !ok {
		return "", domain.NewFunctionNotFoundError("function(%s) is not found", route.Normalize(req.URL))
	}
	result, err := a.loader.Invoke(ctx, entry, args)
	if err != nil {
		return "", err
	}
	data, err = domain.MarshalResult(result)
	if err != nil {
		return "", fmt.Errorf("encode result of %s: %w", entry.Route, err)
	}
	return data, nil
}

type requestBody struct {
	Input json.RawMessage `json:"input"`
}

// buildArgs 从请求体构造用户函数参数。
// 请求体不是合法 JSON 时 input 为空值；input 本身是 JSON 字符串时再解码一次。
func (a *App) buildArgs(ctx context.Context, req domain.InvokeRequest) (*fn.Args, error) {
	args := &fn.Args{Logger: a.user.WithContext(ctx)}
	if req.Body == nil {
		return args, nil
	}

	raw := []byte(*req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(*req.Body)
		if err != nil {
			return nil, domain.NewInvalidBodyError("body is not valid base64: %v", err)
		}
		raw = decoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return args, nil
	}

	var body requestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		a.sys.WithContext(ctx).WithError(err).Warn("request body is not a JSON object, input ignored")
		return args, nil
	}
	if len(body.Input) == 0 {
		return args, nil
	}

	input, err := fn.ParseValue(body.Input)
	if err != nil {
		return args, nil
	}
	if s, ok := input.String(); ok {
		if inner, err := fn.ParseValue([]byte(s)); err == nil {
			input = inner
		} else {
			a.sys.WithContext(ctx).Infof("input is a plain string: %v", err)
		}
	}
	args.Input = input
	return args, nil
}

// parseHeaders 将请求 ID 与运行时事件写入调用上下文，事件格式错误只记录日志。
func (a *App) parseHeaders(ctx context.Context, req domain.InvokeRequest) {
	if id, ok := req.Header(a.opts.RequestIDHeader); ok {
		invocation.SetRequestID(ctx, id)
	}
	raw, ok := req.Header(a.opts.EventHeader)
	if !ok {
		return
	}
	var event map[string]any
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		a.sys.WithContext(ctx).WithError(err).Error("invalid runtime event header")
		return
	}
	invocation.Set(ctx, invocation.KeyRuntimeEvent, event)
}
