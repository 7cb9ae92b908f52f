// Package config 提供函数运行时的配置管理。
// 配置从 YAML 文件加载，未设置的项使用默认值，部分配置项可以通过环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oriys/faasrt/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config 是运行时的主配置。
type Config struct {
	// Project 项目配置：根目录与 manifest
	Project ProjectConfig `yaml:"project"`
	// Runtime 运行时配置：宿主类型与请求头名称
	Runtime RuntimeConfig `yaml:"runtime"`
	// Server 本地 HTTP 代理配置
	Server ServerConfig `yaml:"server"`
	// Event 平台事件包装器配置
	Event EventConfig `yaml:"event"`
	// NATS 消息队列宿主配置
	NATS NATSConfig `yaml:"nats"`
	// Wasm WebAssembly 实现单元配置
	Wasm WasmConfig `yaml:"wasm"`
	// Logging 日志配置
	Logging LoggingConfig `yaml:"logging"`
	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 追踪配置
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ProjectConfig 项目配置。
type ProjectConfig struct {
	// Root 项目根目录，manifest 中的 file 相对于该目录
	Root string `yaml:"root"`
	// Manifest manifest 文件名，默认 manifest.json
	Manifest string `yaml:"manifest"`
}

// RuntimeConfig 运行时配置。
type RuntimeConfig struct {
	// Mode 宿主类型：proxy、aws、vefaas
	Mode string `yaml:"mode"`
	// RequestIDHeader 请求 ID 请求头
	RequestIDHeader string `yaml:"request_id_header"`
	// EventHeader 运行时事件请求头
	EventHeader string `yaml:"event_header"`
}

// ServerConfig 本地 HTTP 代理配置。
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout 优雅关闭的等待时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EventConfig 平台事件包装器配置。
type EventConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr 返回监听地址。
func (e EventConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// NATSConfig NATS 宿主配置。
type NATSConfig struct {
	// URL NATS 服务器地址
	URL string `yaml:"url"`
	// Subject 订阅的调用主题
	Subject string `yaml:"subject"`
	// Queue 队列组名，同组的多个运行时实例分摊消息
	Queue string `yaml:"queue"`
}

// WasmConfig WebAssembly 配置。
type WasmConfig struct {
	// CacheDir 编译缓存目录，为空时不使用磁盘缓存
	CacheDir string `yaml:"cache_dir"`
}

// LoggingConfig 日志配置。
type LoggingConfig struct {
	// Level 日志级别，为空时按宿主类型取默认值
	Level string `yaml:"level"`
}

// MetricsConfig 指标配置。
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load 从指定路径加载配置文件，path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// Default 返回默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyEnvOverrides 应用环境变量覆盖。
// NATS 地址可能带有凭据，因此同时支持 FAASRT_NATS_URL_FILE 指定的文件。
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("FAASRT_PROJECT_ROOT")); v != "" {
		c.Project.Root = v
	}
	if v := readEnvOrFileAny([]string{"FAASRT_NATS_URL"}, []string{"FAASRT_NATS_URL_FILE"}); v != "" {
		c.NATS.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("FAASRT_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

// readEnvOrFileAny 读取配置值：优先读取 fileKeys 指向的文件，其次读取 envKeys。
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}
	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}
	return ""
}

// applyDefaults 为未设置的配置项填充默认值。
func (c *Config) applyDefaults() {
	if c.Project.Root == "" {
		c.Project.Root = "."
	}
	if c.Project.Manifest == "" {
		c.Project.Manifest = "manifest.json"
	}
	if c.Runtime.Mode == "" {
		c.Runtime.Mode = "proxy"
	}
	if c.Runtime.RequestIDHeader == "" {
		c.Runtime.RequestIDHeader = "x-bizide-request-id"
	}
	if c.Runtime.EventHeader == "" {
		c.Runtime.EventHeader = "x-runtime-event"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Event.Port == 0 {
		c.Event.Port = 9000
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "faasrt.invoke"
	}
	if c.NATS.Queue == "" {
		c.NATS.Queue = "faasrt"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "faasrt"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = telemetry.DefaultServiceName
	}
}
