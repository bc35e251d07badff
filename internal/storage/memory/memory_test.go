package memory

import (
	"context"
	"testing"

	"tabimport/internal/model"
	"tabimport/internal/storage"
	"tabimport/internal/storage/storagetest"
)

func TestRepositoryContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository { return New() })
}

func TestRegisteredKind(t *testing.T) {
	repo, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()
	if _, ok := repo.(*Repo); !ok {
		t.Fatalf("repo = %T; want *memory.Repo", repo)
	}
}

func TestGetJobDoesNotAlias(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := New()
	job := &model.ImportJob{ID: "a", Status: model.StatusPending}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Status = model.StatusCompleted

	got, err := repo.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusPending {
		t.Fatalf("stored job mutated through caller pointer: %q", got.Status)
	}
}
