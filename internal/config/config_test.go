package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Load reads the process environment; these tests use t.Setenv and so do not
// run in parallel.

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Addr != ":8080" || c.Storage.Kind != "memory" || c.Blob.Kind != "fs" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Job.MaxProcessTime != 120*time.Second || c.Job.BatchSize != 1000 || c.Job.PatternSampleRows != 100 {
		t.Fatalf("job defaults = %+v", c.Job)
	}
	if c.Progress.TTL != 24*time.Hour || c.Metrics.FlushEvery != time.Minute {
		t.Fatalf("durations = %v %v", c.Progress.TTL, c.Metrics.FlushEvery)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yml := `
storage:
  kind: sqlite
  dsn: file:imports.db
job:
  max_process_time: 30s
  batch_size: 500
decoder:
  delimiter: ";"
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TABIMPORT_JOB_BATCH_SIZE", "250")
	t.Setenv("TABIMPORT_LOG_LEVEL", "debug")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Storage.Kind != "sqlite" || c.Storage.DSN != "file:imports.db" {
		t.Fatalf("storage = %+v", c.Storage)
	}
	if c.Job.MaxProcessTime != 30*time.Second {
		t.Fatalf("max_process_time = %v", c.Job.MaxProcessTime)
	}
	if c.Job.BatchSize != 250 {
		t.Fatalf("env override lost: batch_size = %d", c.Job.BatchSize)
	}
	if c.Decoder.DelimiterRune() != ';' || c.Log.SlogLevel() != slog.LevelDebug {
		t.Fatalf("decoder/log = %+v %+v", c.Decoder, c.Log)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"postgres needs dsn", func(c *Config) { c.Storage.Kind = "postgres" }, "Storage.DSN"},
		{"unknown storage", func(c *Config) { c.Storage.Kind = "oracle" }, "Storage.Kind"},
		{"minio needs endpoint and bucket", func(c *Config) { c.Blob.Kind = "minio" }, "Blob.Endpoint"},
		{"redis needs addr", func(c *Config) { c.Progress.Kind = "redis" }, "Progress.RedisAddr"},
		{"zero timeout", func(c *Config) { c.Job.MaxProcessTime = 0 }, "Job.MaxProcessTime"},
		{"zero batch", func(c *Config) { c.Job.BatchSize = 0 }, "Job.BatchSize"},
		{"long delimiter", func(c *Config) { c.Decoder.Delimiter = ";;" }, "Decoder.Delimiter"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "Log.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v; want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	c.Storage = Storage{Kind: "postgres", DSN: "postgres://localhost/imports"}
	c.Job.MaxProcessTime = 45 * time.Second

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(c, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load(saved): %v", err)
	}
	if got.Storage != c.Storage || got.Job.MaxProcessTime != 45*time.Second {
		t.Fatalf("round trip = %+v / %v", got.Storage, got.Job.MaxProcessTime)
	}
}
