package minio

import (
	"context"
	"testing"

	"tabimport/internal/blob"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     blob.Config
		wantErr bool
	}{
		{"ok", blob.Config{Endpoint: "localhost:9000", Bucket: "imports"}, false},
		{"no endpoint", blob.Config{Bucket: "imports"}, true},
		{"no bucket", blob.Config{Endpoint: "localhost:9000"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := validate(tt.cfg); (err != nil) != tt.wantErr {
				t.Fatalf("validate() err = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRejectsMissingBucket(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), blob.Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error")
	}
}
