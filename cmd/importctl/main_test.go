package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"tabimport/internal/blob/fs"
	"tabimport/internal/job"
	"tabimport/internal/progress"
	"tabimport/internal/server"
	"tabimport/internal/storage/memory"
)

const peopleCSV = "id,name,notes\n1,Ana,\n2,Bo,\n3,Cy,\n4,Di,\n5,Ed,\n"

func init() { gin.SetMode(gin.TestMode) }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeMarkdown(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "analyze", writeFile(t, "people.csv", peopleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{
		"# Import analysis: people.csv",
		"- Rows: 5",
		"| 0 | id | smallint | 0 | 0 | 5 |",
		"| 2 | notes | text | 5 |",
		"**fill_nulls**",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeJSONWithRename(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "analyze", "--format", "json", "--rename", "notes=comments", writeFile(t, "people.csv", peopleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var res job.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if res.RowCount != 5 || len(res.Columns) != 3 || res.Columns[2].Name != "comments" {
		t.Fatalf("result = %+v", res)
	}
}

func TestAnalyzeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unsupported type", []string{"analyze", writeFile(t, "a.pdf", "x")}, "unsupported file type"},
		{"bad format", []string{"analyze", "--format", "html", writeFile(t, "a.csv", peopleCSV)}, "unsupported --format"},
		{"bad delimiter", []string{"analyze", "--delimiter", "#", writeFile(t, "a.csv", peopleCSV)}, "unsupported --delimiter"},
		{"header only", []string{"analyze", writeFile(t, "a.csv", "a,b\n")}, "no data rows"},
		{"missing arg", []string{"analyze"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v; want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want rune
	}{
		{",", ','},
		{";", ';'},
		{"|", '|'},
		{"tab", '\t'},
		{`\t`, '\t'},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("parseDelimiter(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func newTestService(t *testing.T) (*httptest.Server, *job.Controller) {
	t.Helper()
	blobs, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctl := job.NewController(memory.New(), blobs, progress.NewMemory(), job.DefaultConfig(), nil)
	mgr := job.NewManager(ctl, 1, nil)
	srv := httptest.NewServer(server.New(ctl, mgr, server.Options{}, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Shutdown(context.Background())
	})
	return srv, ctl
}

func TestUploadWaitAndStatus(t *testing.T) {
	t.Parallel()
	srv, _ := newTestService(t)

	out, err := execute(t, "--server", srv.URL, "upload", "--org", "org-1", "--wait", "--interval", "10ms", writeFile(t, "people.csv", peopleCSV))
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed  100%") {
		t.Fatalf("upload output = %q", out)
	}
	id := strings.Fields(strings.TrimSpace(out))[0]

	out, err = execute(t, "--server", srv.URL, "status", "--interval", "10ms", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out) != id+" completed  100%" {
		t.Fatalf("status output = %q", out)
	}
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()
	srv, ctl := newTestService(t)
	ctx := context.Background()

	if _, err := execute(t, "--server", srv.URL, "status", "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("status(missing) err = %v; want 404", err)
	}

	j, err := ctl.Register(ctx, job.RegisterRequest{OrganizationID: "o", FileRef: "gone.csv", Filename: "gone.csv"})
	if err != nil {
		t.Fatal(err)
	}
	_ = ctl.Run(ctx, j.ID)

	c := newAPIClient(srv.URL)
	v, err := poll(ctx, c, j.ID, DefaultPollInterval, nil)
	if !errors.Is(err, errJobFailed) || v.ErrorMessage == nil {
		t.Fatalf("poll err = %v view = %+v; want errJobFailed", err, v)
	}

	if _, err := execute(t, "--server", srv.URL, "upload", writeFile(t, "a.csv", peopleCSV)); err == nil || !strings.Contains(err.Error(), `"org" not set`) {
		t.Fatalf("upload without --org err = %v", err)
	}
}
