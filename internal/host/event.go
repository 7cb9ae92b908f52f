package host

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/telemetry"
)

// platformEvent 是托管平台投递的事件，body 为调用请求的 JSON 文本。
type platformEvent struct {
	Body string `json:"body"`
}

// httpResponse 是 vefaas 期望的外层 HTTP 响应。
type httpResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// EventOptions 平台事件包装器参数。
type EventOptions struct {
	// RunType 宿主类型，决定响应的包装方式
	RunType domain.RunType
	// ServiceName 追踪中使用的服务名
	ServiceName string
}

// NewEventRouter 创建托管平台事件入口，POST /invoke 接收一次平台事件。
func NewEventRouter(rt Runtime, opts EventOptions) http.Handler {
	r := chi.NewRouter()
	if opts.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(opts.ServiceName))
	}
	r.Use(middleware.Recoverer)

	r.Post("/invoke", func(w http.ResponseWriter, req *http.Request) {
		var out []byte
		if data, err := io.ReadAll(req.Body); err != nil {
			out = encodeEvent(opts.RunType, failedResponse(invalidEvent(err)))
		} else {
			out = HandleEvent(req.Context(), rt, opts.RunType, data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	})
	return r
}

// HandleEvent 处理一次平台事件并返回平台期望的响应 JSON。
// aws 直接返回调用响应，vefaas 把调用响应序列化后放入一层 HTTP 响应中。
func HandleEvent(ctx context.Context, rt Runtime, runType domain.RunType, data []byte) []byte {
	var resp domain.InvokeResponse
	if req, err := decodeEvent(data); err != nil {
		resp = failedResponse(invalidEvent(err))
	} else {
		resp = rt.EntryHandler(ctx, req)
	}
	return encodeEvent(runType, resp)
}

// encodeEvent 按宿主类型包装调用响应。
func encodeEvent(runType domain.RunType, resp domain.InvokeResponse) []byte {
	if runType != domain.RunTypeVeFaaS {
		out, _ := json.Marshal(resp)
		return out
	}
	inner, _ := json.Marshal(resp)
	out, _ := json.Marshal(httpResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(inner),
	})
	return out
}

func decodeEvent(data []byte) (domain.InvokeRequest, error) {
	var event platformEvent
	var req domain.InvokeRequest
	if err := json.Unmarshal(data, &event); err != nil {
		return req, err
	}
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return req, err
	}
	return req, nil
}
