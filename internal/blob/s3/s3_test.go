package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tabimport/internal/blob"
	"tabimport/internal/errs"
)

// fakeS3 serves path-style PUT/GET /<bucket>/<key> from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), blob.Config{
		Endpoint:  srv.URL,
		Bucket:    "imports",
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, fake
}

func TestUploadDownload(t *testing.T) {
	t.Parallel()

	s, fake := newTestStore(t)
	ctx := context.Background()
	data := []byte("id,name\n1,Ana\n")

	ref, err := s.Upload(ctx, "people.csv", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(ref, "uploads/") || !strings.HasSuffix(ref, "-people.csv") {
		t.Fatalf("ref = %q", ref)
	}
	if len(fake.objects) != 1 {
		t.Fatalf("stored %d objects; want 1", len(fake.objects))
	}

	got, err := s.Download(ctx, ref)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Download = %q; want %q", got, data)
	}
}

func TestDownloadMissingIsStorageError(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Download(context.Background(), "uploads/missing.csv")
	if !errors.Is(err, errs.StorageError) {
		t.Fatalf("err = %v; want StorageError", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), blob.Config{}); err == nil {
		t.Fatal("expected error")
	}
}
