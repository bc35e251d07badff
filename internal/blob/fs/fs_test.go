package fs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tabimport/internal/errs"
)

func TestUploadDownload(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	data := []byte("a,b\n1,2\n")

	ref, err := s.Upload(ctx, "people.csv", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := s.Download(ctx, ref)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Download = %q; want %q", got, data)
	}
}

func TestDownloadErrorsAreStorageErrors(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"missing.csv", "../outside.csv", "/etc/passwd"} {
		_, err := s.Download(context.Background(), ref)
		if !errors.Is(err, errs.StorageError) {
			t.Fatalf("Download(%q) err = %v; want StorageError", ref, err)
		}
	}
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
