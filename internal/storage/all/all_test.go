package all

import (
	"slices"
	"testing"

	"tabimport/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	t.Parallel()

	got := storage.Kinds()
	for _, want := range []string{"memory", "mssql", "postgres", "sqlite"} {
		if !slices.Contains(got, want) {
			t.Fatalf("Kinds() = %v; missing %q", got, want)
		}
	}
}
