// Package blob fetches and stores uploaded source files. The pipeline only
// ever sees an opaque reference string; which backend resolves it is a
// deployment choice.
package blob

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store resolves references to file bytes.
type Store interface {
	// Download returns the full content behind ref.
	Download(ctx context.Context, ref string) ([]byte, error)
	// Upload stores data and returns the reference to hand to Download.
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Config selects and configures a backend. Unused fields are ignored by
// backends that do not need them.
type Config struct {
	Kind      string
	Dir       string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Panics on empty kind, nil
// factory or a duplicate registration.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("blob: Register called with empty kind")
	}
	if f == nil {
		panic("blob: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("blob: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the store for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported blob.kind=%q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backends, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ObjectKey builds a collision-free key for an uploaded file:
// uploads/<yyyy>/<mm>/<uuid>-<base name>.
func ObjectKey(name string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == '/', r == '?', r == '#', r == '%':
			return '_'
		}
		return r
	}, base)
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return fmt.Sprintf("uploads/%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString(), base)
}

// ContentType maps the extensions the decoder accepts to their MIME types.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	}
	return "application/octet-stream"
}
