// Package destination implements the destination connector (§4.4) and
// multi-destination composer (§4.5): adapters that take a Dataset read
// from a cache and land it in a warehouse or object store, honouring
// FULL_REFRESH (replace) or INCREMENTAL (upsert) write semantics.
package destination

import (
	"context"
	"fmt"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// WriteConfig configures one Destination.Write call for a single stream.
type WriteConfig struct {
	Mode      schedule.Mode
	Namespace string
	BatchID   string
	Dt        string
}

// IntegrityChecker is implemented by destinations that can verify the
// landed row count against the source's reported count, per §4.4's
// integrity-check step.
type IntegrityChecker interface {
	RowCount(ctx context.Context, schemaName, tableName string) (int64, error)
}

// Destination is the connector interface every vendor adapter implements.
type Destination interface {
	TestConnect(ctx context.Context) error
	// Write lands every record read from cur into the destination. Table
	// destinations first create a missing target table, or reject an
	// existing one whose schema is incompatible with
	// DestinationStreamInvalidSchema; no table is altered, per §4.4
	// step 2 (schema compatibility gate).
	Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string, schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error)
	Close() error
}

// Constructor builds a Destination from its ConnectionInfo.
type Constructor func(info connection.Info) (Destination, error)

var registry = map[connection.VendorType]Constructor{}

// Register installs a vendor adapter constructor. Called from each
// adapter's init().
func Register(vendor connection.VendorType, ctor Constructor) {
	registry[vendor] = ctor
}

// New dispatches to the registered constructor for info.VendorType.
func New(info connection.Info) (Destination, error) {
	if err := info.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "invalid connection info", err)
	}
	ctor, ok := registry[info.VendorType]
	if !ok {
		return nil, xerrors.New(xerrors.DestinationConnectionFailed, fmt.Sprintf("no destination registered for vendor_type %q", info.VendorType))
	}
	return ctor(info)
}

// EntityURI builds the progress entity URI for a destination stream, per
// §4.7: "destination+<vendor>://<namespace>/<schema>/<table>".
func EntityURI(vendor connection.VendorType, namespace, schemaName, table string) string {
	return fmt.Sprintf("destination+%s://%s/%s/%s", vendor, namespace, schemaName, table)
}

// drainAll reads every remaining record off cur, used by destinations
// that must buffer a full batch before issuing a bulk load (object
// store, staged warehouse loads).
func drainAll(ctx context.Context, cur stream.Cursor) ([]stream.Record, error) {
	var out []stream.Record
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}
