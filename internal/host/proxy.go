package host

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProxyManifestPath 是本地代理直接返回 manifest 的路径。
const ProxyManifestPath = "/manifest.json"

// ProxyOptions 本地代理参数。
type ProxyOptions struct {
	// ServiceName 追踪中使用的服务名
	ServiceName string
	// Gatherer 指标采集器，非空时挂载 /metrics
	Gatherer prometheus.Gatherer
}

// NewProxyRouter 创建本地开发用的 HTTP 代理路由。
//
// GET|POST /manifest.json 返回 manifest 原文，其余 POST 请求转换为调用请求，
// 其余 GET 请求返回 404。
func NewProxyRouter(rt Runtime, opts ProxyOptions) http.Handler {
	r := chi.NewRouter()

	if opts.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(opts.ServiceName))
	}
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	manifest := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, rt.Manifest())
	}
	r.Get(ProxyManifestPath, manifest)
	r.Post(ProxyManifestPath, manifest)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "ok")
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/*", func(w http.ResponseWriter, req *http.Request) {
		ir, err := proxyRequest(req, rt.RequestIDHeader())
		if err != nil {
			writeResponse(w, failedResponse(err))
			return
		}
		writeResponse(w, rt.EntryHandler(req.Context(), ir))
	})
	r.Get("/*", notFound)
	r.NotFound(notFound)

	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, "Not found")
}

// proxyRequest 将 HTTP 请求转换为调用请求，请求头名称统一转为小写。
// 请求没有携带请求 ID 时生成一个。
func proxyRequest(req *http.Request, requestIDHeader string) (domain.InvokeRequest, error) {
	headers := make(map[string]string, len(req.Header)+1)
	for k, v := range req.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	if _, ok := headers[strings.ToLower(requestIDHeader)]; !ok {
		headers[strings.ToLower(requestIDHeader)] = uuid.NewString()
	}

	ir := domain.InvokeRequest{
		Version:  1,
		Protocol: "HTTP",
		Method:   http.MethodPost,
		URL:      req.URL.Path,
		Headers:  headers,
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return ir, err
	}
	if len(data) > 0 {
		body := string(data)
		ir.Body = &body
	}
	return ir, nil
}

// writeResponse 写出调用响应：先写响应头，再写状态码与响应体。
func writeResponse(w http.ResponseWriter, resp domain.InvokeResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.WriteString(w, resp.Body)
}
