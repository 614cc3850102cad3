package source

import (
	"context"
	"testing"
	"time"

	"github.com/sp00nznet/pontoond/internal/cache"
	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
)

func TestMemorySourceFullRefreshCustomer1(t *testing.T) {
	c, err := cache.Open(cache.Options{Backend: cache.BackendSQLite, Dir: t.TempDir(), Namespace: "full_refresh"})
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	defer c.Close()

	src, err := New(connection.Info{VendorType: connection.VendorMemory, Namespace: "memory"})
	if err != nil {
		t.Fatalf("constructing memory source: %v", err)
	}
	defer src.Close()

	cfg := ReadConfig{
		Mode:      schedule.Mode{Type: schedule.FullRefresh},
		Namespace: "memory",
		BatchID:   "batch-1",
		Cache:     c,
		Streams: []StreamSpec{{
			SchemaName: "public",
			TableName:  "customers",
			Filters:    map[string]any{"customer_id": "Customer1"},
		}},
	}

	agg := progress.NewAggregator()
	ds, err := src.Read(context.Background(), cfg, agg)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	streams := ds.Streams()
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	n, err := ds.Size(streams[0])
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 29 {
		t.Fatalf("expected 29 records for customer_id=Customer1 full refresh, got %d", n)
	}
}

func TestMemorySourceIncrementalWindow(t *testing.T) {
	c, err := cache.Open(cache.Options{Backend: cache.BackendSQLite, Dir: t.TempDir(), Namespace: "incremental"})
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	defer c.Close()

	src, err := New(connection.Info{VendorType: connection.VendorMemory, Namespace: "memory"})
	if err != nil {
		t.Fatalf("constructing memory source: %v", err)
	}
	defer src.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	cfg := ReadConfig{
		Mode:      schedule.Mode{Type: schedule.Incremental, Start: &start, End: &end},
		Namespace: "memory",
		BatchID:   "batch-2",
		Cache:     c,
		Streams: []StreamSpec{{
			SchemaName:  "public",
			TableName:   "customers",
			CursorField: "updated_at",
			Filters:     map[string]any{"customer_id": "Customer1"},
		}},
	}

	ds, err := src.Read(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	n, err := ds.Size(ds.Streams()[0])
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 records inside the half-open incremental window, got %d", n)
	}
}

func TestMemorySourceUnknownTableFails(t *testing.T) {
	c, err := cache.Open(cache.Options{Backend: cache.BackendSQLite, Dir: t.TempDir(), Namespace: "unknown"})
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	defer c.Close()

	src, err := New(connection.Info{VendorType: connection.VendorMemory, Namespace: "memory"})
	if err != nil {
		t.Fatalf("constructing memory source: %v", err)
	}
	defer src.Close()

	cfg := ReadConfig{
		Mode:      schedule.Mode{Type: schedule.FullRefresh},
		Namespace: "memory",
		Cache:     c,
		Streams:   []StreamSpec{{SchemaName: "public", TableName: "does_not_exist"}},
	}

	if _, err := src.Read(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error reading an unknown memory table")
	}
}
