// Package timing 实现冷启动与单次请求各阶段的耗时统计。
//
// 统计分为两类：
//   - 进程级（Process）：项目初始化耗时，只在进程处理的第一个请求中上报一次
//   - 请求级（Stopwatch）：函数加载、执行与总耗时，以及若干关键时间点
//
// 结果最终渲染为两个响应头：x-runtime-timing 与 x-runtime-timestamps。
package timing

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// 响应头名称
const (
	// HeaderTiming 记录各阶段耗时，格式为 "phase;dur=ms, ..."
	HeaderTiming = "x-runtime-timing"
	// HeaderTimestamps 记录各时间点，格式为 "label=epochMs, ..."
	HeaderTimestamps = "x-runtime-timestamps"
)

// Phase 是计时阶段名称。
type Phase string

// 阶段常量定义
const (
	// PhaseLoad 函数实现单元加载
	PhaseLoad Phase = "fn-load"
	// PhaseRun 用户函数执行
	PhaseRun Phase = "fn-run"
	// PhaseTotal 从上下文创建到响应组装的总耗时
	PhaseTotal Phase = "fn-total"
	// PhaseInit 进程冷启动耗时，仅首个请求上报
	PhaseInit Phase = "fn-init"
)

// 时间点标签
const (
	StampRequest   = "request"
	StampUserStart = "user_start"
	StampUserEnd   = "user_end"
	StampResponse  = "response"
	StampInit      = "init"
)

// Process 保存进程级的冷启动信息。
// 由应用持有一份实例，可被多个并发请求共享。
type Process struct {
	initStart atomic.Int64 // UnixNano
	coldStart atomic.Int64 // 纳秒
	first     atomic.Bool
	now       func() time.Time
}

// NewProcess 创建进程级计时器，初始化开始时间默认为创建时刻。
func NewProcess() *Process {
	return newProcess(time.Now)
}

func newProcess(now func() time.Time) *Process {
	p := &Process{now: now}
	p.initStart.Store(now().UnixNano())
	p.first.Store(true)
	return p
}

// ProjectInitStart 标记项目初始化开始，进程启动时调用一次。
func (p *Process) ProjectInitStart() {
	p.initStart.Store(p.now().UnixNano())
}

// ProjectInitEnd 标记项目初始化结束（manifest 与路由加载完成），计算冷启动耗时。
func (p *Process) ProjectInitEnd() {
	p.coldStart.Store(p.now().UnixNano() - p.initStart.Load())
}

// ColdStart 返回冷启动耗时。
func (p *Process) ColdStart() time.Duration {
	return time.Duration(p.coldStart.Load())
}

// InitStart 返回项目初始化开始的时间。
func (p *Process) InitStart() time.Time {
	return time.Unix(0, p.initStart.Load())
}

// ClaimFirstInvocation 原子地领取"首个请求"资格。
// 整个进程生命周期内只有一次调用返回 true，与并发无关。
func (p *Process) ClaimFirstInvocation() bool {
	return p.first.CompareAndSwap(true, false)
}

// IsFirstInvocation 返回首个请求资格是否尚未被领取。
func (p *Process) IsFirstInvocation() bool {
	return p.first.Load()
}

type entry struct {
	key   string
	value int64
}

// ordered 保持插入顺序的键值列表，重复写入覆盖原值但保留原位置。
type ordered []entry

func (o *ordered) set(key string, value int64) {
	for i := range *o {
		if (*o)[i].key == key {
			(*o)[i].value = value
			return
		}
	}
	*o = append(*o, entry{key, value})
}

func (o ordered) get(key string) (int64, bool) {
	for _, e := range o {
		if e.key == key {
			return e.value, true
		}
	}
	return 0, false
}

// Stopwatch 记录单个请求的各阶段耗时。
// 每个请求创建独立实例，仅在该请求的处理流程内使用。
type Stopwatch struct {
	now        func() time.Time
	start      time.Time
	loadStart  time.Time
	runStart   time.Time
	timing     ordered
	timestamps ordered
	finished   bool
}

// NewStopwatch 创建请求级计时器，并记录 request 时间点。
func NewStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	sw := &Stopwatch{now: now, start: now()}
	sw.timestamps.set(StampRequest, sw.start.UnixMilli())
	return sw
}

// LoadStart 标记函数加载开始。
func (s *Stopwatch) LoadStart() {
	s.loadStart = s.now()
}

// LoadEnd 标记函数加载结束并记录 fn-load。
func (s *Stopwatch) LoadEnd() {
	s.timing.set(string(PhaseLoad), s.now().Sub(s.loadStart).Milliseconds())
}

// RunStart 标记用户函数开始执行，并记录 user_start 时间点。
func (s *Stopwatch) RunStart() {
	s.runStart = s.now()
	s.timestamps.set(StampUserStart, s.runStart.UnixMilli())
}

// RunEnd 标记用户函数执行结束，记录 fn-run 与 user_end。
func (s *Stopwatch) RunEnd() {
	end := s.now()
	s.timing.set(string(PhaseRun), end.Sub(s.runStart).Milliseconds())
	s.timestamps.set(StampUserEnd, end.UnixMilli())
}

// Start 开始一个阶段，返回对应的结束函数，适合与 defer 搭配：
//
//	defer sw.Start(timing.PhaseLoad)()
//
// 只支持 PhaseLoad 与 PhaseRun，其余阶段返回空操作。
func (s *Stopwatch) Start(phase Phase) func() {
	switch phase {
	case PhaseLoad:
		s.LoadStart()
		return s.LoadEnd
	case PhaseRun:
		s.RunStart()
		return s.RunEnd
	}
	return func() {}
}

// Finish 记录 fn-total 与 response 时间点，可重复调用，以最后一次为准。
func (s *Stopwatch) Finish() {
	end := s.now()
	s.timing.set(string(PhaseTotal), end.Sub(s.start).Milliseconds())
	s.timestamps.set(StampResponse, end.UnixMilli())
	s.finished = true
}

// Duration 返回已记录的阶段耗时（毫秒）。
func (s *Stopwatch) Duration(phase Phase) (int64, bool) {
	return s.timing.get(string(phase))
}

// Timestamp 返回已记录的时间点（毫秒时间戳）。
func (s *Stopwatch) Timestamp(label string) (int64, bool) {
	return s.timestamps.get(label)
}

// Headers 渲染耗时响应头。
// 若 proc 的首个请求资格仍未被领取，则由本请求领取并附带 fn-init 与 init；
// 若此前未调用 Finish，会先补记总耗时。
func (s *Stopwatch) Headers(proc *Process) map[string]string {
	if !s.finished {
		s.Finish()
	}
	if proc != nil && proc.ClaimFirstInvocation() {
		s.timing.set(string(PhaseInit), proc.ColdStart().Milliseconds())
		s.timestamps.set(StampInit, proc.InitStart().UnixMilli())
	}
	return map[string]string{
		HeaderTiming:     render(s.timing, ";dur="),
		HeaderTimestamps: render(s.timestamps, "="),
	}
}

func render(o ordered, sep string) string {
	parts := make([]string, 0, len(o))
	for _, e := range o {
		parts = append(parts, e.key+sep+strconv.FormatInt(e.value, 10))
	}
	return strings.Join(parts, ", ")
}
