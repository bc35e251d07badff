package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("bad zip")
	err := fmt.Errorf("run: %w", E(KindDecode, "decoder.xlsx", cause))

	if !errors.Is(err, DecodeError) {
		t.Fatalf("errors.Is(DecodeError) = false; want true")
	}
	if errors.Is(err, StorageError) {
		t.Fatalf("errors.Is(StorageError) = true; want false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if got := KindOf(err); got != KindDecode {
		t.Fatalf("KindOf = %v; want %v", got, KindDecode)
	}
}

func TestTimeoutMessage(t *testing.T) {
	t.Parallel()

	err := E(KindTimeout, "job.run", context.DeadlineExceeded)
	if err.Error() != TimeoutMessage {
		t.Fatalf("Error() = %q; want %q", err.Error(), TimeoutMessage)
	}
	if got := Message(fmt.Errorf("wrapped: %w", err)); got != TimeoutMessage {
		t.Fatalf("Message = %q; want %q", got, TimeoutMessage)
	}
}

func TestErrorText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"op and cause", E(KindStorage, "blob.download", errors.New("no such key")), "blob.download: storage_error: no such key"},
		{"no op", E(KindEmptyDataset, "", errors.New("no data rows")), "empty_dataset: no data rows"},
		{"formatted", Ef(KindUnsupportedFormat, "decoder", "extension %q", ".pdf"), `decoder: unsupported_format: extension ".pdf"`},
		{"plain error", errors.New("boom"), "boom"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Message(tt.err); got != tt.want {
				t.Fatalf("Message = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	if got := KindUnsupportedFormat.HTTPStatus(); got != http.StatusUnsupportedMediaType {
		t.Fatalf("UnsupportedFormat status = %d", got)
	}
	if got := KindUnknown.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("Unknown status = %d", got)
	}
}
