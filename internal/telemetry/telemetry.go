// Package telemetry 提供 OpenTelemetry 分布式追踪的封装。
//
// 运行时为每次调用创建 fn.load 与 fn.run 两个 Span，由加载器负责；
// 本包负责初始化追踪提供者、导出器，以及 HTTP 宿主与日志的追踪集成。
// 未启用时返回全局的空操作追踪器，调用方无需判断是否启用。
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// 默认配置
const (
	DefaultServiceName = "faasrt"
	DefaultEndpoint    = "localhost:4317"
	DefaultSampleRate  = 0.1
)

// Config 遥测配置。
type Config struct {
	// Enabled 是否启用追踪
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP gRPC 接收端地址，例如 "tempo:4317"
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，取值 0 到 1
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 运行环境，如 production、staging
	Environment string `yaml:"environment"`
}

// Telemetry 持有追踪提供者与追踪器。
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// New 根据配置创建 Telemetry。
// 启用时会连接 OTLP 接收端，并设置全局追踪提供者与 W3C 传播器。
func New(ctx context.Context, cfg Config, version string) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if !cfg.Enabled {
		return &Telemetry{config: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			attribute.String("environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		config:         cfg,
		tracerProvider: tp,
		tracer:         tp.Tracer(cfg.ServiceName),
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// NewWithProvider 使用给定的追踪提供者创建 Telemetry，主要用于测试。
func NewWithProvider(serviceName string, tp *sdktrace.TracerProvider) *Telemetry {
	return &Telemetry{
		config:         Config{Enabled: true, ServiceName: serviceName},
		tracerProvider: tp,
		tracer:         tp.Tracer(serviceName),
	}
}

// Tracer 返回追踪器。
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// IsEnabled 返回是否启用追踪。
func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled
}

// Shutdown 刷新未发送的 Span 并关闭追踪提供者，应在进程退出前调用。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Shutdown(ctx)
}

// TraceIDFromContext 返回 ctx 中的 Trace ID，没有有效 Span 时返回空字符串。
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
