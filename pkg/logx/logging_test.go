package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroValueIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("ignored")
	l.With(String("k", "v")).Error("ignored too")

	n := Nop()
	if n.IsZero() {
		t.Fatal("Nop logger should not be the zero value")
	}
	n.Warn("ignored")
}

func TestEnabledRespectsLevel(t *testing.T) {
	t.Parallel()
	l := NewConsole("warn")
	if l.Enabled(LevelDebug) {
		t.Fatal("debug enabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error disabled at warn level")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("process finished",
		String("event", "ingest"),
		Int("pid", 4242),
	)
	log.Debug("visible at debug")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{"process finished", `"event":"ingest"`, `"pid":4242`, "visible at debug"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log file missing %q:\n%s", want, out)
		}
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Debug("before apply")

	svc.Apply(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	log.Debug("after apply")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "before apply") {
		t.Fatal("debug line written at info level")
	}
	if !strings.Contains(out, "after apply") {
		t.Fatal("debug line missing after level change; the live logger did not follow Apply")
	}
}

func TestWithAddsFixedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.With(String("comp", "cron")).Info("rule added", String("event", "tick"))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, `"comp":"cron"`) || !strings.Contains(out, `"event":"tick"`) {
		t.Fatalf("fields missing:\n%s", out)
	}
}
