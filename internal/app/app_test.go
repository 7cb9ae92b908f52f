package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/invocation"
	"github.com/oriys/faasrt/internal/loader"
	"github.com/oriys/faasrt/internal/logging"
	"github.com/oriys/faasrt/internal/metrics"
	"github.com/oriys/faasrt/internal/route"
	"github.com/oriys/faasrt/internal/timing"
	"github.com/oriys/faasrt/pkg/fn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testManifest = `{"api":[{"route":"/hello","file":"api/hello.go"},{"route":"/echo","file":"api/echo.go"},{"route":"/boom","file":"api/boom.go"},{"route":"/bad","file":"api/bad.go"},{"route":"/ctx","file":"api/ctx.go"},{"route":"/gone","file":"api/gone.go"}]}`

type fixture struct {
	app     *App
	sysHook *test.Hook
	usrHook *test.Hook
	reg     *loader.Registry
}

func newFixture(t *testing.T, manifest string) *fixture {
	t.Helper()
	dir := t.TempDir()
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, route.ManifestFile), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sys, sysHook := test.NewNullLogger()
	usr, usrHook := test.NewNullLogger()
	sys.SetLevel(logrus.DebugLevel)
	usr.SetLevel(logrus.DebugLevel)

	reg := loader.NewRegistry()
	reg.Register("api/hello.go", func(context.Context, *fn.Args) (any, error) {
		return map[string]string{"msg": "hi"}, nil
	})
	reg.Register("api/echo.go", func(_ context.Context, args *fn.Args) (any, error) {
		return args.Input.Interface(), nil
	})
	reg.Register("api/boom.go", func(context.Context, *fn.Args) (any, error) {
		panic("exploded")
	})
	reg.Register("api/bad.go", func(context.Context, *fn.Args) (any, error) {
		return make(chan int), nil
	})

	a := New(Options{
		Root:     dir,
		Loggers:  logging.Channels{System: sys, User: usr},
		Registry: reg,
	})
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return &fixture{app: a, sysHook: sysHook, usrHook: usrHook, reg: reg}
}

func body(s string) *string { return &s }

func decodeEnvelope(t *testing.T, resp domain.InvokeResponse) map[string]string {
	t.Helper()
	var env map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &env); err != nil {
		t.Fatalf("body is not an envelope: %v (%q)", err, resp.Body)
	}
	_, hasData := env["data"]
	_, hasCode := env["code"]
	if hasData == hasCode {
		t.Fatalf("envelope must carry exactly one of data/code: %q", resp.Body)
	}
	return env
}

func hasEntry(hook *test.Hook, level logrus.Level) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			return true
		}
	}
	return false
}

func hasErrorEntry(hook *test.Hook) bool {
	return hasEntry(hook, logrus.ErrorLevel)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t, testManifest)

	for _, url := range []string{"hello", "/hello"} {
		resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: url, Body: body(`{}`)})
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if resp.Body != `{"data":"{\"msg\": \"hi\"}"}` {
			t.Fatalf("%s body = %s", url, resp.Body)
		}
		for _, h := range []string{timing.HeaderTiming, timing.HeaderTimestamps} {
			if resp.Headers[h] == "" {
				t.Errorf("missing header %s", h)
			}
		}
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, testManifest)
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/nope"})
	env := decodeEnvelope(t, resp)
	if env["code"] != string(domain.CodeFunctionNotFound) || env["message"] != "function(nope) is not found" {
		t.Fatalf("envelope = %v", env)
	}
	if !strings.Contains(resp.Headers[timing.HeaderTiming], "fn-total;dur=") {
		t.Fatalf("timing header = %q", resp.Headers[timing.HeaderTiming])
	}
}

func TestUnitNotRegistered(t *testing.T) {
	f := newFixture(t, testManifest)
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/gone"})
	env := decodeEnvelope(t, resp)
	if env["code"] != string(domain.CodeFunctionNotFound) || !strings.HasPrefix(env["message"], "ModuleNotFoundError: __api__gone") {
		t.Fatalf("envelope = %v", env)
	}
	if _, ok := f.app.Routes()[5].Handler(); ok {
		t.Fatal("failed route marked loaded")
	}
}

func TestManifestIntrospection(t *testing.T) {
	f := newFixture(t, testManifest)
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: route.ManifestPath})
	if resp.Body != testManifest {
		t.Fatalf("body = %q, want raw manifest", resp.Body)
	}
	if resp.Headers[timing.HeaderTiming] == "" || resp.Headers[timing.HeaderTimestamps] == "" {
		t.Fatal("timing headers missing on manifest path")
	}
	for _, e := range f.app.Routes() {
		if e.Loaded() {
			t.Fatalf("manifest path loaded route %s", e.Route)
		}
	}
}

func TestMissingManifest(t *testing.T) {
	f := newFixture(t, "")
	if len(f.app.Routes()) != 0 {
		t.Fatal("routes without a manifest")
	}
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: route.ManifestPath})
	if resp.Body != "" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestBuildArgs(t *testing.T) {
	f := newFixture(t, testManifest)

	tests := []struct {
		name   string
		req    domain.InvokeRequest
		data   string
		code   domain.Code
		logged bool
	}{
		{name: "object input", req: domain.InvokeRequest{Body: body(`{"input":{"a":[1,"x"]}}`)}, data: `{"a": [1, "x"]}`},
		{name: "string input decoded once", req: domain.InvokeRequest{Body: body(`{"input":"{\"a\":1}"}`)}, data: `{"a": 1}`},
		{name: "plain string input kept", req: domain.InvokeRequest{Body: body(`{"input":"hello"}`)}, data: `"hello"`},
		{name: "no body", req: domain.InvokeRequest{}, data: `null`},
		{name: "missing input", req: domain.InvokeRequest{Body: body(`{"other":1}`)}, data: `null`},
		{name: "invalid json", req: domain.InvokeRequest{Body: body(`{not json`)}, data: `null`, logged: true},
		{
			name: "base64 body",
			req: domain.InvokeRequest{
				Body:            body(base64.StdEncoding.EncodeToString([]byte(`{"input":{"b":true}}`))),
				IsBase64Encoded: true,
			},
			data: `{"b": true}`,
		},
		{name: "invalid base64", req: domain.InvokeRequest{Body: body("%%%"), IsBase64Encoded: true}, code: domain.CodeInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.sysHook.Reset()
			tt.req.URL = "/echo"
			env := decodeEnvelope(t, f.app.EntryHandler(context.Background(), tt.req))
			if tt.code != "" {
				if env["code"] != string(tt.code) {
					t.Fatalf("envelope = %v, want code %s", env, tt.code)
				}
				return
			}
			if env["data"] != tt.data {
				t.Fatalf("data = %s, want %s", env["data"], tt.data)
			}
			if tt.logged && !hasEntry(f.sysHook, logrus.WarnLevel) {
				t.Fatal("invalid body was not logged on the system channel")
			}
		})
	}
}

func TestUserErrorGoesToUserChannel(t *testing.T) {
	f := newFixture(t, testManifest)
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/boom"})
	env := decodeEnvelope(t, resp)
	if env["code"] != string(domain.CodeFunctionExecution) || !strings.HasPrefix(env["message"], "UserFuncExecErr: exploded") {
		t.Fatalf("envelope = %v", env)
	}
	if !hasErrorEntry(f.usrHook) {
		t.Fatal("user error not logged on the user channel")
	}
	if hasErrorEntry(f.sysHook) {
		t.Fatal("user error logged on the system channel")
	}
	if !strings.Contains(resp.Headers[timing.HeaderTiming], "fn-run;dur=") {
		t.Fatalf("fn-run missing after a failed run: %q", resp.Headers[timing.HeaderTiming])
	}
}

func TestUnencodableResultIsSystemError(t *testing.T) {
	f := newFixture(t, testManifest)
	env := decodeEnvelope(t, f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/bad"}))
	if env["code"] != string(domain.CodeSystemError) || !strings.HasPrefix(env["message"], "SysErr: ") {
		t.Fatalf("envelope = %v", env)
	}
	if !hasErrorEntry(f.sysHook) {
		t.Fatal("system error not logged on the system channel")
	}
	if hasErrorEntry(f.usrHook) {
		t.Fatal("system error logged on the user channel")
	}
}

func TestLoadPhaseOnlyOnFirstCall(t *testing.T) {
	f := newFixture(t, testManifest)

	first := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/hello"})
	second := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/hello"})
	if !strings.Contains(first.Headers[timing.HeaderTiming], "fn-load;dur=") {
		t.Fatalf("first call timing = %q, want fn-load", first.Headers[timing.HeaderTiming])
	}
	if strings.Contains(second.Headers[timing.HeaderTiming], "fn-load") {
		t.Fatalf("second call timing = %q, want no fn-load", second.Headers[timing.HeaderTiming])
	}
}

func TestColdStartReportedOnce(t *testing.T) {
	f := newFixture(t, testManifest)

	const n = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		inits int
		stamp int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/hello"})
			mu.Lock()
			defer mu.Unlock()
			if strings.Contains(resp.Headers[timing.HeaderTiming], "fn-init;dur=") {
				inits++
			}
			if strings.Contains(resp.Headers[timing.HeaderTimestamps], "init=") {
				stamp++
			}
		}()
	}
	wg.Wait()

	if inits != 1 || stamp != 1 {
		t.Fatalf("fn-init in %d responses, init stamp in %d, want exactly 1", inits, stamp)
	}
	later := f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/hello"})
	if strings.Contains(later.Headers[timing.HeaderTiming], "fn-init") {
		t.Fatal("fn-init reported again")
	}
}

func TestRequestContext(t *testing.T) {
	f := newFixture(t, testManifest)

	type seen struct {
		id    string
		event map[string]any
	}
	got := make(chan seen, 1)
	f.reg.Register("api/ctx.go", func(ctx context.Context, args *fn.Args) (any, error) {
		id, _ := invocation.RequestID(ctx)
		ev, _ := invocation.RuntimeEvent(ctx)
		got <- seen{id: id, event: ev}
		args.Logger.Info("inside")
		return nil, nil
	})

	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{
		URL: "/ctx",
		Headers: map[string]string{
			DefaultRequestIDHeader: "req-1",
			"x-runtime-event":      `{"app_id":"demo"}`,
		},
	})
	if env := decodeEnvelope(t, resp); env["data"] != "null" {
		t.Fatalf("envelope = %v", env)
	}
	s := <-got
	if s.id != "req-1" || s.event["app_id"] != "demo" {
		t.Fatalf("handler saw id=%q event=%v", s.id, s.event)
	}

	entry := f.usrHook.LastEntry()
	if entry == nil || entry.Message != "inside" || entry.Context == nil {
		t.Fatalf("user log entry = %+v", entry)
	}
	if _, ok := invocation.RequestID(entry.Context); ok {
		t.Fatal("invocation context still readable after the request finished")
	}
}

func TestMalformedEventHeaderIsNotFatal(t *testing.T) {
	f := newFixture(t, testManifest)
	resp := f.app.EntryHandler(context.Background(), domain.InvokeRequest{
		URL:     "/hello",
		Headers: map[string]string{DefaultEventHeader: "{broken"},
	})
	if env := decodeEnvelope(t, resp); env["data"] == "" {
		t.Fatalf("envelope = %v", env)
	}
	if !hasErrorEntry(f.sysHook) {
		t.Fatal("malformed event header was not logged")
	}
}

func TestInvocationMetrics(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, route.ManifestFile), []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	sys, _ := test.NewNullLogger()
	usr, _ := test.NewNullLogger()
	reg := loader.NewRegistry()
	reg.Register("api/hello.go", func(context.Context, *fn.Args) (any, error) { return "ok", nil })
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	a := New(Options{Root: dir, Loggers: logging.Channels{System: sys, User: usr}, Registry: reg, Metrics: m})
	if err := a.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())

	a.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/hello"})
	for _, url := range []string{"/missing", "/random/1", "/random/2"} {
		a.EntryHandler(context.Background(), domain.InvokeRequest{URL: url})
	}

	if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("hello", metrics.StatusOK)); got != 1 {
		t.Errorf("ok invocations = %v", got)
	}
	if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues(metrics.UnmatchedRoute, string(domain.CodeFunctionNotFound))); got != 3 {
		t.Errorf("not found invocations = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.InvocationsTotal); got != 2 {
		t.Errorf("invocation series = %d, want 2 (request paths must not become labels)", got)
	}
	if got := testutil.ToFloat64(m.RoutesTotal); got != 6 {
		t.Errorf("routes = %v, want 6", got)
	}
}

func TestRuntimePanicIsSystemError(t *testing.T) {
	sys, sysHook := test.NewNullLogger()
	usr, _ := test.NewNullLogger()
	// 未调用 Init，加载器为空
	a := New(Options{Root: t.TempDir(), Loggers: logging.Channels{System: sys, User: usr}})
	a.table = route.Parse([]byte(`{"api":[{"route":"/x","file":"x.go"}]}`), "/", sys)

	env := decodeEnvelope(t, a.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/x"}))
	if env["code"] != string(domain.CodeSystemError) {
		t.Fatalf("envelope = %v", env)
	}
	if !hasErrorEntry(sysHook) {
		t.Fatal("runtime panic not logged on the system channel")
	}
}

type panicMarshaler struct{}

func (panicMarshaler) MarshalJSON() ([]byte, error) { panic("marshal boom") }

func TestRuntimePanicStackStaysInSystemLog(t *testing.T) {
	f := newFixture(t, `{"api":[{"route":"/leak","file":"api/leak.go"}]}`)
	f.reg.Register("api/leak.go", func(context.Context, *fn.Args) (any, error) {
		return panicMarshaler{}, nil
	})

	env := decodeEnvelope(t, f.app.EntryHandler(context.Background(), domain.InvokeRequest{URL: "/leak"}))
	if env["code"] != string(domain.CodeSystemError) || env["message"] != "SysErr: panic: marshal boom" {
		t.Fatalf("envelope = %v", env)
	}

	var stack string
	for _, e := range f.sysHook.AllEntries() {
		if s, ok := e.Data["stack"].(string); ok && e.Level == logrus.ErrorLevel {
			stack = s
		}
	}
	if !strings.Contains(stack, "goroutine") {
		t.Fatalf("stack not logged on the system channel: %q", stack)
	}
}
