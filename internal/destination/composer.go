package destination

import (
	"context"

	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// Composer chains a staging object-store destination with a warehouse
// destination, per §4.5: `write` invokes every child in order over the
// same cursor's records; `RowCount` delegates to the last child.
//
// The cache-backed Cursor each child receives is single-pass, so the
// composer re-reads it once per child from the Dataset rather than
// sharing one Cursor instance — callers pass a reopen function instead
// of a single Cursor.
type Composer struct {
	children []Destination
	reopen   func(ctx context.Context) (stream.Cursor, error)
}

// NewComposer constructs a Composer over children, in write order.
func NewComposer(reopen func(ctx context.Context) (stream.Cursor, error), children ...Destination) *Composer {
	return &Composer{children: children, reopen: reopen}
}

func (c *Composer) TestConnect(ctx context.Context) error {
	for _, child := range c.children {
		if err := child.TestConnect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) Close() error {
	var firstErr error
	for _, child := range c.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Write invokes every child in order, reopening the cursor for each so
// every child sees the full stream, per the "reusing the same dataset
// handle" design note.
func (c *Composer) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, _ stream.Cursor, tracker *progress.Tracker) (int64, error) {

	if len(c.children) == 0 {
		return 0, xerrors.New(xerrors.DestinationConnectionFailed, "composer has no child destinations")
	}

	var last int64
	for _, child := range c.children {
		cur, err := c.reopen(ctx)
		if err != nil {
			return last, xerrors.Wrap(xerrors.DestinationConnectionFailed, "reopening cursor for composed destination", err)
		}
		n, err := child.Write(ctx, cfg, schemaName, tableName, schema, cur, tracker)
		cur.Close()
		if err != nil {
			return last, err
		}
		last = n
	}
	return last, nil
}

// RowCount delegates to the last child, per §4.5: "integrity() delegates
// to the last child."
func (c *Composer) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	if len(c.children) == 0 {
		return 0, xerrors.New(xerrors.IntegrityCheckFailed, "composer has no child destinations")
	}
	last := c.children[len(c.children)-1]
	checker, ok := last.(IntegrityChecker)
	if !ok {
		return 0, xerrors.New(xerrors.IntegrityCheckFailed, "last composed destination does not support row count verification")
	}
	return checker.RowCount(ctx, schemaName, tableName)
}
