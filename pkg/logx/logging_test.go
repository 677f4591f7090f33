package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "tracker"))
	log.Info("job.started", String("job_id", "m-1"), Int("rounds", 3))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "tracker" || m["job_id"] != "m-1" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["message"] != "job.started" {
		t.Fatalf("message = %v", m["message"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want short file:line", c)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("ignored", Err(os.ErrNotExist))
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("dropped")
	log.Info("kept", String("k", "v"))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now kept")
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, `"dropped"`) {
		t.Fatalf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, `"kept"`) || !strings.Contains(out, `"now kept"`) {
		t.Fatalf("missing lines: %s", out)
	}
	if got := svc.Config().Level; got != "debug" {
		t.Fatalf("Config().Level = %q", got)
	}
}
