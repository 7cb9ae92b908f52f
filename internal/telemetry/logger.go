package telemetry

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogrusHook 将日志条目 Context 中的追踪信息写入 trace_id、span_id 字段。
//
//	channels := logging.NewChannels(opts)
//	channels.AddHook(telemetry.NewLogrusHook())
type LogrusHook struct{}

// NewLogrusHook 创建 LogrusHook。
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 实现 logrus.Hook，对所有级别生效。
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 实现 logrus.Hook。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanFromContext(entry.Context).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	if sc.IsSampled() {
		entry.Data["trace_sampled"] = true
	}
	return nil
}
