// Package cache implements the durable, per-run, per-namespace store that
// decouples a source's read throughput from a destination's write
// throughput (§4.2). Two backends are provided: an Arrow-IPC columnar
// append file (the default) and an embedded SQLite relational store.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sp00nznet/pontoond/internal/stream"
)

// Backend names the cache implementation to use for a run.
type Backend string

const (
	BackendArrow  Backend = "arrow"
	BackendSQLite Backend = "sqlite"
)

// Options configures cache construction.
type Options struct {
	// Backend selects the storage engine. Defaults to BackendArrow.
	Backend Backend
	// Dir is the run-scoped directory cache files are created under. It
	// is created if absent and is the Transfer command's responsibility
	// to remove on both the success and failure paths (§4.7 step 9).
	Dir string
	// Namespace partitions cache files, per §3 "Namespace".
	Namespace string
}

// Open creates a fresh, run-scoped cache under opts.Dir, per §3 Cache
// lifecycle: "Cache files are created when the Source opens them".
func Open(opts Options) (stream.Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache: Dir is required")
	}
	dir := filepath.Join(opts.Dir, opts.Namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating namespace dir: %w", err)
	}

	switch opts.Backend {
	case BackendArrow, "":
		return newArrowCache(dir)
	case BackendSQLite:
		return newSQLiteCache(dir)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}
