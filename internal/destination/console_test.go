package destination

import (
	"context"
	"testing"

	"github.com/sp00nznet/pontoond/internal/cache"
	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

func testSchema() types.Schema {
	return types.Schema{
		{Name: "id", Kind: types.Int64},
		{Name: "name", Kind: types.String},
	}
}

func seedCursor(t *testing.T, schemaName, tableName string, n int) stream.Cursor {
	t.Helper()
	c, err := cache.Open(cache.Options{Backend: cache.BackendSQLite, Dir: t.TempDir(), Namespace: "ns"})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	key := stream.Key{SchemaName: schemaName, Name: tableName}
	var records []stream.Record
	for i := 0; i < n; i++ {
		records = append(records, stream.Record{
			{Kind: types.Int64, V: int64(i)},
			{Kind: types.String, V: "row"},
		})
	}
	if n > 0 {
		if _, err := c.Write(context.Background(), key, records); err != nil {
			t.Fatalf("seed write: %v", err)
		}
	}
	cur, err := c.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return cur
}

func TestConsoleDestinationWritesAllRecords(t *testing.T) {
	d, err := newConsoleDestination(connection.Info{VendorType: connection.VendorConsole, Limit: 2})
	if err != nil {
		t.Fatalf("new console destination: %v", err)
	}
	defer d.Close()

	cur := seedCursor(t, "public", "widgets", 5)
	defer cur.Close()

	tracker := progress.New(EntityURI(connection.VendorConsole, "ns", "public", "widgets"), 5)
	var last progress.Snapshot
	tracker.Subscribe(func(s progress.Snapshot) { last = s })

	n, err := d.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "widgets", testSchema(), cur, tracker)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 records written, got %d", n)
	}
	if last.Processed != 5 {
		t.Fatalf("expected tracker to report 5 processed, got %d", last.Processed)
	}
}

func TestConsoleDestinationEmptyStream(t *testing.T) {
	d, err := newConsoleDestination(connection.Info{VendorType: connection.VendorConsole})
	if err != nil {
		t.Fatalf("new console destination: %v", err)
	}
	defer d.Close()

	cur := seedCursor(t, "public", "empty", 0)
	defer cur.Close()

	n, err := d.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "empty", testSchema(), cur, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 records written, got %d", n)
	}
}

func TestConsoleDestinationDefaultLimit(t *testing.T) {
	d, err := newConsoleDestination(connection.Info{VendorType: connection.VendorConsole})
	if err != nil {
		t.Fatalf("new console destination: %v", err)
	}
	cd, ok := d.(*consoleDestination)
	if !ok {
		t.Fatalf("expected *consoleDestination, got %T", d)
	}
	if cd.limit != 10 {
		t.Fatalf("expected default limit 10, got %d", cd.limit)
	}
}
