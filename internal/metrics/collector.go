// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义运行时关键指标（调用、加载、冷启动），便于在各模块复用并保持标签一致。
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 标签常量
const (
	// StatusOK 是成功调用的 code 标签值
	StatusOK = "OK"
	// UnmatchedRoute 是未命中路由表的请求使用的 route 标签值，避免请求路径变成标签
	UnmatchedRoute = "<unmatched>"
)

// Metrics 封装运行时指标集合。
// 所有辅助方法都允许在 nil 接收者上调用，未启用指标时调用方无需判空。
//
// 指标分类:
//   - 调用指标: 按路由与错误码统计调用次数和总耗时
//   - 加载指标: 统计实现单元的加载次数、失败与耗时
//   - 冷启动指标: 记录进程初始化耗时
type Metrics struct {
	// InvocationsTotal 调用总次数计数器
	// 标签: route, code
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration 调用总耗时直方图（单位：毫秒）
	// 标签: route, cold_start
	InvocationDuration *prometheus.HistogramVec

	// LoadsTotal 实现单元加载次数计数器
	// 标签: route, code
	LoadsTotal *prometheus.CounterVec

	// LoadDuration 实现单元加载耗时直方图（单位：毫秒）
	// 标签: route
	LoadDuration *prometheus.HistogramVec

	// RunDuration 用户函数执行耗时直方图（单位：毫秒）
	// 标签: route
	RunDuration *prometheus.HistogramVec

	// ColdStartDuration 进程冷启动耗时（单位：毫秒）
	ColdStartDuration prometheus.Gauge

	// RoutesTotal manifest 中声明的路由数量
	RoutesTotal prometheus.Gauge
}

var durationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// NewMetrics 在 reg 上创建并注册一组指标。
// namespace 作为所有指标名前缀；reg 为 nil 时使用 prometheus.DefaultRegisterer。
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"route", "code"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Function invocation total duration in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"route", "cold_start"},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Total number of implementation unit loads",
			},
			[]string{"route", "code"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_ms",
				Help:      "Implementation unit load duration in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"route"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_ms",
				Help:      "User handler run duration in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"route"},
		),
		ColdStartDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cold_start_duration_ms",
			Help:      "Process initialization duration in milliseconds",
		}),
		RoutesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Number of routes declared in the manifest",
		}),
	}
}

// RecordInvocation 记录一次调用的结果与总耗时。
// route 必须是路由表中的路由，为空时记为 UnmatchedRoute。
func (m *Metrics) RecordInvocation(route, code string, durationMs float64, coldStart bool) {
	if m == nil {
		return
	}
	if route == "" {
		route = UnmatchedRoute
	}
	if code == "" {
		code = StatusOK
	}
	m.InvocationsTotal.WithLabelValues(route, code).Inc()
	m.InvocationDuration.WithLabelValues(route, strconv.FormatBool(coldStart)).Observe(durationMs)
}

// RecordLoad 记录一次实现单元加载。
func (m *Metrics) RecordLoad(route, code string, durationMs float64) {
	if m == nil {
		return
	}
	if code == "" {
		code = StatusOK
	}
	m.LoadsTotal.WithLabelValues(route, code).Inc()
	m.LoadDuration.WithLabelValues(route).Observe(durationMs)
}

// RecordRun 记录一次用户函数执行耗时。
func (m *Metrics) RecordRun(route string, durationMs float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(route).Observe(durationMs)
}

// SetColdStart 设置冷启动耗时。
func (m *Metrics) SetColdStart(durationMs float64) {
	if m == nil {
		return
	}
	m.ColdStartDuration.Set(durationMs)
}

// SetRoutes 设置路由数量。
func (m *Metrics) SetRoutes(n int) {
	if m == nil {
		return
	}
	m.RoutesTotal.Set(float64(n))
}
