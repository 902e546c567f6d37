package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyHandlerWritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Info("epoch done", "epoch", 3, "val_loss", 0.25)

	out := buf.String()
	if !strings.Contains(out, "epoch done") {
		t.Fatalf("missing message in output: %q", out)
	}
	if !strings.Contains(out, "epoch=3") || !strings.Contains(out, "val_loss=0.25") {
		t.Fatalf("missing attrs in output: %q", out)
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelWarn)
	log.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record not filtered: %q", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), log)
	if got := FromContext(ctx); got != log {
		t.Fatal("FromContext did not return the stored logger")
	}
}
