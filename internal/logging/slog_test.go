package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	l := slog.New(h)
	return NewSlogLogger(l), &buf
}

func TestSlogLogger_Levels_WriteExpectedOutput(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()

	tests := []struct {
		level string
		msg   string
		key   string
		val   string
	}{
		{"DEBUG", "dbg", "a", "1"},
		{"INFO", "inf", "b", "2"},
		{"WARN", "wrn", "c", "3"},
		{"ERROR", "err", "d", "4"},
	}

	for _, tc := range tests {
		if !strings.Contains(out, "level="+tc.level) {
			t.Fatalf("expected line with level=%s in output:\n%s", tc.level, out)
		}
		if !strings.Contains(out, "msg="+tc.msg) {
			t.Fatalf("expected line with msg=%q in output:\n%s", tc.msg, out)
		}
		if !strings.Contains(out, tc.key+"="+tc.val) {
			t.Fatalf("expected attribute %s=%s in output:\n%s", tc.key, tc.val, out)
		}
	}
}

func TestSlogLogger_With_AddsAttributes(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log2 := log.With("module", "entry_service", "workspace", "acme")
	log2.Info(ctx, "hello", "k", "v")

	out := buf.String()
	wantSubs := []string{
		"level=INFO",
		"msg=hello",
		"module=entry_service",
		"workspace=acme",
		"k=v",
	}
	for _, s := range wantSubs {
		if !strings.Contains(out, s) {
			t.Fatalf("expected %q in output, got:\n%s", s, out)
		}
	}
}

func TestSlogLogger_ContextDoesNotPanic(t *testing.T) {
	log, _ := newTestLogger(t)

	ctx := context.TODO()
	log.Info(ctx, "ctx-ok")
	log.Debug(ctx, "ctx-ok")
	log.Warn(ctx, "ctx-ok")
	log.Error(ctx, "ctx-ok")
}

func TestNew_SelectsImplementation(t *testing.T) {
	var buf bytes.Buffer

	if _, ok := New("json", "info", &buf).(*SlogLogger); !ok {
		t.Fatalf("json format must produce *SlogLogger")
	}
	if _, ok := New("console", "info", &buf).(*ZerologLogger); !ok {
		t.Fatalf("console format must produce *ZerologLogger")
	}
	if _, ok := New("", "", &buf).(*SlogLogger); !ok {
		t.Fatalf("default format must produce *SlogLogger")
	}
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("json", "warn", &buf)

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown", "sequence", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"sequence":7`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestNewJSONLogger_LevelNames(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"DEBUG", true, true},
		{"info", false, true},
		{"warning", false, false},
		{"bogus", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewJSONLogger(&buf, tc.level)
			log.Debug(context.Background(), "dbg")
			log.Info(context.Background(), "inf")

			out := buf.String()
			if got := strings.Contains(out, `"msg":"dbg"`); got != tc.debugSeen {
				t.Fatalf("debug written = %v, want %v:\n%s", got, tc.debugSeen, out)
			}
			if got := strings.Contains(out, `"msg":"inf"`); got != tc.infoSeen {
				t.Fatalf("info written = %v, want %v:\n%s", got, tc.infoSeen, out)
			}
		})
	}
}
