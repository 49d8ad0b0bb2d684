package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestInitWritesFile(t *testing.T) {
	defer Set(nil)
	path := filepath.Join(t.TempDir(), "nested", "cube-duel.log")
	if err := Init(Options{Level: "info", Format: "json", File: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	L().Info("round_created", zap.String("round_id", "r1"))
	_ = L().Sync()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"round_id":"r1"`) {
		t.Fatalf("log line missing field: %s", raw)
	}
}

func TestSetNilFallsBackToNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatal("logger must never be nil")
	}
}
