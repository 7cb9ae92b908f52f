package timing

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock 每次调用前进固定步长，便于断言耗时。
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func newClock(step time.Duration) *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000), step: step}
}

func TestStopwatchPhases(t *testing.T) {
	clock := newClock(5 * time.Millisecond)
	sw := newStopwatch(clock.now)

	func() {
		defer sw.Start(PhaseLoad)()
	}()
	func() {
		defer sw.Start(PhaseRun)()
	}()
	sw.Finish()

	// request=t0, loadStart=t0+5, loadEnd=t0+10, runStart=t0+15, runEnd=t0+20, finish=t0+25
	if d, ok := sw.Duration(PhaseLoad); !ok || d != 5 {
		t.Fatalf("fn-load = %d, %v; want 5", d, ok)
	}
	if d, ok := sw.Duration(PhaseRun); !ok || d != 5 {
		t.Fatalf("fn-run = %d, %v; want 5", d, ok)
	}
	if d, ok := sw.Duration(PhaseTotal); !ok || d != 25 {
		t.Fatalf("fn-total = %d, %v; want 25", d, ok)
	}
	for _, label := range []string{StampRequest, StampUserStart, StampUserEnd, StampResponse} {
		if _, ok := sw.Timestamp(label); !ok {
			t.Errorf("timestamp %q missing", label)
		}
	}
}

func TestStopwatchHeadersWithoutLoad(t *testing.T) {
	sw := newStopwatch(newClock(time.Millisecond).now)
	proc := newProcess(newClock(time.Millisecond).now)
	proc.ClaimFirstInvocation()

	headers := sw.Headers(proc)
	got := headers[HeaderTiming]
	if !strings.HasPrefix(got, "fn-total;dur=") {
		t.Fatalf("timing header = %q, want only fn-total", got)
	}
	if strings.Contains(got, string(PhaseLoad)) || strings.Contains(got, string(PhaseRun)) {
		t.Fatalf("timing header = %q, load/run must be absent", got)
	}
	if strings.Contains(got, string(PhaseInit)) {
		t.Fatalf("timing header = %q, fn-init must be absent once claimed", got)
	}
	stamps := headers[HeaderTimestamps]
	if !strings.HasPrefix(stamps, "request=") || !strings.Contains(stamps, ", response=") {
		t.Fatalf("timestamps header = %q", stamps)
	}
}

func TestStopwatchHeadersOrderAndInit(t *testing.T) {
	clock := newClock(time.Millisecond)
	proc := newProcess(clock.now)
	proc.ProjectInitStart()
	proc.ProjectInitEnd()

	sw := newStopwatch(clock.now)
	func() { defer sw.Start(PhaseLoad)() }()
	func() { defer sw.Start(PhaseRun)() }()
	headers := sw.Headers(proc)

	keys := headerKeys(headers[HeaderTiming], ";")
	want := []string{"fn-load", "fn-run", "fn-total", "fn-init"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("timing keys = %v, want %v", keys, want)
	}
	stamps := headerKeys(headers[HeaderTimestamps], "=")
	wantStamps := []string{"request", "user_start", "user_end", "response", "init"}
	if strings.Join(stamps, ",") != strings.Join(wantStamps, ",") {
		t.Fatalf("timestamp keys = %v, want %v", stamps, wantStamps)
	}
	if !strings.Contains(headers[HeaderTiming], "fn-init;dur=1") {
		t.Fatalf("timing header = %q, want fn-init;dur=1", headers[HeaderTiming])
	}

	// 第二个请求不再携带冷启动信息
	next := newStopwatch(clock.now).Headers(proc)
	if strings.Contains(next[HeaderTiming], "fn-init") || strings.Contains(next[HeaderTimestamps], "init=") {
		t.Fatalf("second request headers carry init: %v", next)
	}
}

func TestClaimFirstInvocationConcurrent(t *testing.T) {
	proc := NewProcess()
	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if proc.ClaimFirstInvocation() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if proc.IsFirstInvocation() {
		t.Fatal("IsFirstInvocation() = true after claim")
	}
}

func headerKeys(header, sep string) []string {
	var keys []string
	for _, part := range strings.Split(header, ", ") {
		keys = append(keys, strings.SplitN(part, sep, 2)[0])
	}
	return keys
}
