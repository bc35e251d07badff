package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithWritersFansOut(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer
	logger := SetupWithWriters(&text, &js, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("job done", "job_id", "j-1", "stage", "score")

	if strings.Contains(text.String(), "hidden") || strings.Contains(js.String(), "hidden") {
		t.Fatal("debug line leaked at info level")
	}
	if !strings.Contains(text.String(), "job_id=j-1") {
		t.Fatalf("text output = %q", text.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(js.Bytes()), &rec); err != nil {
		t.Fatalf("json output %q: %v", js.String(), err)
	}
	if rec["msg"] != "job done" || rec["stage"] != "score" {
		t.Fatalf("json record = %v", rec)
	}
}

func TestSetupWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "importd.log")
	logger, cleanup := Setup(path, slog.LevelInfo)
	logger.Info("started")
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"msg":"started"`) {
		t.Fatalf("log file = %q", b)
	}
}

func TestSetupWithoutFile(t *testing.T) {
	t.Parallel()

	logger, cleanup := Setup("", slog.LevelInfo)
	if logger == nil || cleanup() != nil {
		t.Fatal("stderr-only setup failed")
	}
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
}
