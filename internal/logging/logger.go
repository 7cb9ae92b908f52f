// Package logging 提供运行时的两路日志通道：系统日志与用户日志。
//
// 系统日志记录运行时自身的行为与故障；用户日志交给用户函数使用，
// 并记录用户代码产生的错误。两路日志都输出为 JSON 记录：
//
//	{"type":1,"timestamp":1700000000000,"level":2,"content":"hello","request_id":"..."}
//
// request_id 与运行时事件字段从日志条目的 Context 中读取（见 invocation 包），
// 因此使用 logger.WithContext(ctx) 输出的日志会自动关联到当前请求。
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/invocation"
	"github.com/sirupsen/logrus"
)

// Channel 表示日志通道类型，数值会写入记录的 type 字段。
type Channel int

// 日志通道常量
const (
	// ChannelSystem 运行时系统日志
	ChannelSystem Channel = 0
	// ChannelUser 用户函数日志
	ChannelUser Channel = 1
)

// String 返回通道名称。
func (c Channel) String() string {
	if c == ChannelUser {
		return "USER"
	}
	return "SYSTEM"
}

// MaxContentLength 是单条日志内容的最大长度（字节），超出部分被截断。
const MaxContentLength = 10 * 1024

const truncatedNotice = "\n... The log has been truncated because it exceeds the length limit %d."

// levelCode 将 logrus 级别映射为记录中的数字级别（0 trace 至 5 fatal）。
func levelCode(l logrus.Level) int {
	switch l {
	case logrus.TraceLevel:
		return 0
	case logrus.DebugLevel:
		return 1
	case logrus.InfoLevel:
		return 2
	case logrus.WarnLevel:
		return 3
	case logrus.ErrorLevel:
		return 4
	default:
		return 5
	}
}

// Formatter 是输出 JSON 日志记录的 logrus.Formatter。
type Formatter struct {
	// Channel 日志通道
	Channel Channel
	// Wrap 为 true 时将记录包裹在 {"timestamp","level","message"} 中（aws 模式）
	Wrap bool
}

// Format 实现 logrus.Formatter。
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	record := make(map[string]any, len(entry.Data)+6)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			record[k] = err.Error()
			continue
		}
		record[k] = v
	}
	record["type"] = int(f.Channel)
	record["timestamp"] = entry.Time.UnixMilli()
	record["level"] = levelCode(entry.Level)
	record["content"] = truncate(entry.Message)

	if entry.Context != nil {
		if ev, ok := invocation.RuntimeEvent(entry.Context); ok {
			for k, v := range ev {
				record[k] = v
			}
		}
		if id, ok := invocation.RequestID(entry.Context); ok && id != "" {
			record[invocation.KeyRequestID] = id
		}
	}

	var out any = record
	if f.Wrap {
		out = struct {
			Timestamp string         `json:"timestamp"`
			Level     string         `json:"level"`
			Message   map[string]any `json:"message"`
		}{
			Timestamp: entry.Time.Format("2006-01-02 15:04:05.000"),
			Level:     strings.ToUpper(entry.Level.String()),
			Message:   record,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to marshal log record: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(msg string) string {
	if len(msg) <= MaxContentLength {
		return msg
	}
	cut := msg[:MaxContentLength]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + fmt.Sprintf(truncatedNotice, MaxContentLength)
}

// Options 日志创建参数。
type Options struct {
	// RunType 宿主类型，决定默认格式与级别
	RunType domain.RunType
	// Level 覆盖默认日志级别，为空时使用宿主默认值
	Level string
	// Output 日志输出目标，默认为标准错误
	Output io.Writer
}

// New 创建指定通道的日志记录器。
//
// 默认值：
//   - proxy：输出裸记录，debug 级别
//   - aws：输出包裹后的记录，info 级别
//   - vefaas：输出裸记录，info 级别
func New(channel Channel, opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&Formatter{Channel: channel, Wrap: opts.RunType == domain.RunTypeAWS})

	level := logrus.InfoLevel
	if opts.RunType == domain.RunTypeProxy || opts.RunType == "" {
		level = logrus.DebugLevel
	}
	if opts.Level != "" {
		if l, err := logrus.ParseLevel(opts.Level); err == nil {
			level = l
		}
	}
	logger.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)
	return logger
}

// Channels 是运行时使用的一对日志记录器。
type Channels struct {
	// System 系统日志
	System *logrus.Logger
	// User 用户日志
	User *logrus.Logger
}

// NewChannels 使用相同参数创建系统与用户日志记录器。
func NewChannels(opts Options) Channels {
	return Channels{
		System: New(ChannelSystem, opts),
		User:   New(ChannelUser, opts),
	}
}

// AddHook 为两路日志添加同一个钩子。
func (c Channels) AddHook(hook logrus.Hook) {
	c.System.AddHook(hook)
	c.User.AddHook(hook)
}
