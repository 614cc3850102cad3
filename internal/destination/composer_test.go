package destination

import (
	"context"
	"testing"

	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

// countingDestination records how many times Write/RowCount were called,
// standing in for a real staging or warehouse destination in composer
// tests.
type countingDestination struct {
	writes   int
	rowCount int64
	fail     bool
}

func (c *countingDestination) TestConnect(ctx context.Context) error { return nil }
func (c *countingDestination) Close() error                          { return nil }

func (c *countingDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {
	c.writes++
	var n int64
	for {
		_, ok, err := cur.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	if c.fail {
		return n, xerrorsTestErr{}
	}
	return n, nil
}

func (c *countingDestination) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	return c.rowCount, nil
}

type xerrorsTestErr struct{}

func (xerrorsTestErr) Error() string { return "write failed" }

func TestComposerWritesEveryChildInOrder(t *testing.T) {
	staging := &countingDestination{}
	warehouse := &countingDestination{rowCount: 5}

	reopen := func(ctx context.Context) (stream.Cursor, error) {
		return seedCursor(t, "public", "widgets", 5), nil
	}

	c := NewComposer(reopen, staging, warehouse)

	n, err := c.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "widgets", testSchema(), nil, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected last child's count 5, got %d", n)
	}
	if staging.writes != 1 || warehouse.writes != 1 {
		t.Fatalf("expected each child written exactly once, got staging=%d warehouse=%d", staging.writes, warehouse.writes)
	}
}

func TestComposerRowCountDelegatesToLastChild(t *testing.T) {
	staging := &countingDestination{rowCount: 1}
	warehouse := &countingDestination{rowCount: 42}

	reopen := func(ctx context.Context) (stream.Cursor, error) {
		return seedCursor(t, "public", "widgets", 0), nil
	}
	c := NewComposer(reopen, staging, warehouse)

	n, err := c.RowCount(context.Background(), "public", "widgets")
	if err != nil {
		t.Fatalf("row count: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected row count delegated to last child (42), got %d", n)
	}
}

func TestComposerWriteStopsOnChildError(t *testing.T) {
	staging := &countingDestination{fail: true}
	warehouse := &countingDestination{}

	reopen := func(ctx context.Context) (stream.Cursor, error) {
		return seedCursor(t, "public", "widgets", 3), nil
	}
	c := NewComposer(reopen, staging, warehouse)

	_, err := c.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "widgets", testSchema(), nil, nil)
	if err == nil {
		t.Fatalf("expected error from failing first child")
	}
	if warehouse.writes != 0 {
		t.Fatalf("expected second child not invoked after first child's error, got writes=%d", warehouse.writes)
	}
}

func TestComposerRowCountWithNoIntegrityChecker(t *testing.T) {
	reopen := func(ctx context.Context) (stream.Cursor, error) {
		return seedCursor(t, "public", "widgets", 0), nil
	}
	c := NewComposer(reopen, &nonCheckingDestination{})

	if _, err := c.RowCount(context.Background(), "public", "widgets"); err == nil {
		t.Fatalf("expected error when last child does not implement IntegrityChecker")
	}
}

// nonCheckingDestination deliberately does not implement IntegrityChecker.
type nonCheckingDestination struct{}

func (nonCheckingDestination) TestConnect(ctx context.Context) error { return nil }
func (nonCheckingDestination) Close() error                         { return nil }
func (nonCheckingDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {
	return 0, nil
}
