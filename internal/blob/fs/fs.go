// Package fs stores uploads under a local directory. References are paths
// relative to that directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tabimport/internal/blob"
	"tabimport/internal/errs"
)

func init() {
	blob.Register("fs", func(ctx context.Context, cfg blob.Config) (blob.Store, error) {
		return New(cfg.Dir)
	})
}

// Store is a directory-backed blob.Store.
type Store struct {
	root string
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob/fs: dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob/fs: create %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) resolve(ref string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(ref)) {
		return "", fmt.Errorf("reference %q escapes the blob directory", ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(ref)), nil
}

func (s *Store) Download(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	p, err := s.resolve(ref)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "blob.download", err)
	}
	return data, nil
}

func (s *Store) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	ref := blob.ObjectKey(name, time.Now().UTC())
	p, err := s.resolve(ref)
	if err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}

	// Write-then-rename so a concurrent Download never sees a partial file.
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", errs.E(errs.KindStorage, "blob.upload", err)
	}
	return ref, nil
}
