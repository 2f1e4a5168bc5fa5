package logging

import (
	"bytes"
	"log"
	"log/slog"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapPrintfLogger(t *testing.T) {
	var buf bytes.Buffer
	l := WrapPrintfLogger(log.New(&buf, "", 0))

	l.Warn("span dropped", "dropped_count", 3, "queue_size", 10)

	if got, want := strings.TrimSpace(buf.String()), "[WARN] span dropped | dropped_count=3 queue_size=10"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want string
	}{
		{"empty", nil, ""},
		{"pairs", []any{"a", 1, "b", true}, " | a=1 b=true"},
		{"odd", []any{"a", 1, "dangling"}, " | a=1 dangling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatArgs(tt.args); got != tt.want {
				t.Errorf("FormatArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.With("component", "pipeline").Error("flush failed", "spans", 5)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "msg=\"flush failed\"", "component=pipeline", "spans=5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("batch delivered", "spans", 100)
	l.Debug("retrying", "attempt", 2)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(entries))
	}
	if entries[0].Message != "batch delivered" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["spans"]; got != int64(100) {
		t.Errorf("spans field = %v (%T), want 100", got, got)
	}
}

func TestPrintf_Bridge(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := Printf(NewZapAdapter(zap.New(core)))

	p.Printf("idle for %d seconds", 30)

	if logs.Len() != 1 || logs.All()[0].Message != "idle for 30 seconds" {
		t.Errorf("unexpected entries: %+v", logs.All())
	}
	if Printf(nil) != nil {
		t.Error("Printf(nil) should be nil")
	}
}
