package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/invocation"
	"github.com/sirupsen/logrus"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return m
}

func TestRecordFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ChannelUser, Options{RunType: domain.RunTypeProxy, Output: &buf})

	ctx, _ := invocation.Init(context.Background())
	invocation.SetRequestID(ctx, "req-42")
	invocation.Set(ctx, invocation.KeyRuntimeEvent, map[string]any{"app_id": "demo"})

	logger.WithContext(ctx).WithError(errors.New("boom")).Warn("hello")

	rec := decodeLine(t, &buf)
	if rec["type"] != float64(ChannelUser) {
		t.Errorf("type = %v, want 1", rec["type"])
	}
	if rec["level"] != float64(3) {
		t.Errorf("level = %v, want 3", rec["level"])
	}
	if rec["content"] != "hello" {
		t.Errorf("content = %v", rec["content"])
	}
	if rec["request_id"] != "req-42" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
	if rec["app_id"] != "demo" {
		t.Errorf("runtime event field app_id = %v", rec["app_id"])
	}
	if rec["error"] != "boom" {
		t.Errorf("error = %v", rec["error"])
	}
	if _, ok := rec["timestamp"].(float64); !ok {
		t.Errorf("timestamp = %v", rec["timestamp"])
	}
}

func TestRecordWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ChannelSystem, Options{RunType: domain.RunTypeVeFaaS, Output: &buf})
	logger.Info("started")

	rec := decodeLine(t, &buf)
	if rec["type"] != float64(ChannelSystem) {
		t.Errorf("type = %v, want 0", rec["type"])
	}
	if _, ok := rec["request_id"]; ok {
		t.Error("request_id present without an invocation context")
	}
}

func TestAWSWrapsRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ChannelSystem, Options{RunType: domain.RunTypeAWS, Output: &buf})
	logger.Error("failed")

	rec := decodeLine(t, &buf)
	if rec["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", rec["level"])
	}
	msg, ok := rec["message"].(map[string]any)
	if !ok {
		t.Fatalf("message = %T, want object", rec["message"])
	}
	if msg["content"] != "failed" || msg["level"] != float64(4) {
		t.Errorf("message = %v", msg)
	}
}

func TestDefaultLevels(t *testing.T) {
	tests := []struct {
		run   domain.RunType
		level string
		want  logrus.Level
	}{
		{domain.RunTypeProxy, "", logrus.DebugLevel},
		{domain.RunTypeAWS, "", logrus.InfoLevel},
		{domain.RunTypeVeFaaS, "", logrus.InfoLevel},
		{domain.RunTypeAWS, "warn", logrus.WarnLevel},
		{domain.RunTypeProxy, "bogus", logrus.DebugLevel},
	}
	for _, tt := range tests {
		l := New(ChannelSystem, Options{RunType: tt.run, Level: tt.level, Output: &bytes.Buffer{}})
		if l.GetLevel() != tt.want {
			t.Errorf("%s/%q level = %v, want %v", tt.run, tt.level, l.GetLevel(), tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", MaxContentLength+100)
	got := truncate(long)
	if !strings.HasPrefix(got, strings.Repeat("x", MaxContentLength)) {
		t.Fatal("truncated content lost its prefix")
	}
	if !strings.Contains(got, "exceeds the length limit 10240") {
		t.Fatalf("missing truncation notice: %q", got[MaxContentLength:])
	}
	if truncate("short") != "short" {
		t.Fatal("short content was modified")
	}
}
