package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/oriys/faasrt/internal/app"
	"github.com/oriys/faasrt/internal/config"
	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/logging"
	"github.com/oriys/faasrt/internal/metrics"
	"github.com/oriys/faasrt/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// runtimeEnv 是各宿主命令共用的运行时组件。
type runtimeEnv struct {
	cfg      *config.Config
	app      *app.App
	tel      *telemetry.Telemetry
	gatherer prometheus.Gatherer
	sys      *logrus.Logger
}

// loadConfig 读取配置文件，再用命令行标志与环境变量覆盖。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("root"); v != "" {
		cfg.Project.Root = v
	}
	if v := viper.GetString("mode"); v != "" {
		cfg.Runtime.Mode = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

// bootstrap 创建日志、遥测、指标与应用，并完成项目初始化。
// fallback 非空时替换配置中的 proxy 宿主类型；logOut 为空时日志写到标准错误。
func bootstrap(ctx context.Context, fallback domain.RunType, logOut io.Writer) (*runtimeEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	runType, err := domain.ParseRunType(cfg.Runtime.Mode)
	if err != nil {
		return nil, err
	}
	if fallback != "" && runType == domain.RunTypeProxy {
		runType = fallback
	}

	loggers := logging.NewChannels(logging.Options{
		RunType: runType,
		Level:   cfg.Logging.Level,
		Output:  logOut,
	})
	env := &runtimeEnv{cfg: cfg, sys: loggers.System}

	env.tel, err = telemetry.New(ctx, cfg.Telemetry, Version)
	if err != nil {
		// 遥测初始化失败不影响运行时，仅记录警告
		loggers.System.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
		env.tel, _ = telemetry.New(ctx, telemetry.Config{}, Version)
	} else if env.tel.IsEnabled() {
		loggers.AddHook(telemetry.NewLogrusHook())
		loggers.System.WithFields(logrus.Fields{
			"endpoint":    cfg.Telemetry.Endpoint,
			"sample_rate": cfg.Telemetry.SampleRate,
		}).Info("Telemetry initialized")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.NewMetrics(cfg.Metrics.Namespace, reg)
		env.gatherer = reg
	}

	env.app = app.New(app.Options{
		Root:            cfg.Project.Root,
		Manifest:        cfg.Project.Manifest,
		RunType:         runType,
		RequestIDHeader: cfg.Runtime.RequestIDHeader,
		EventHeader:     cfg.Runtime.EventHeader,
		Loggers:         loggers,
		WasmCacheDir:    cfg.Wasm.CacheDir,
		Metrics:         m,
		Tracer:          env.tel.Tracer(),
	})
	if err := env.app.Init(ctx); err != nil {
		env.tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init runtime: %w", err)
	}
	return env, nil
}

// serviceName 返回 HTTP 追踪中间件使用的服务名，未启用遥测时为空。
func (e *runtimeEnv) serviceName() string {
	if !e.tel.IsEnabled() {
		return ""
	}
	return e.cfg.Telemetry.ServiceName
}

// close 释放应用与遥测资源。
func (e *runtimeEnv) close(ctx context.Context) {
	if err := e.app.Close(ctx); err != nil {
		e.sys.WithError(err).Error("Runtime close error")
	}
	if err := e.tel.Shutdown(ctx); err != nil {
		e.sys.WithError(err).Error("Telemetry shutdown error")
	}
}
