package source

import (
	"context"
	"fmt"
	"time"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// DefaultChunkSize is the server-side cursor/streaming chunk size used
// when a ReadConfig does not override it, per §4.3 step 4.
const DefaultChunkSize = 1024

// InspectedField is one column as reported by InspectStreams.
type InspectedField struct {
	Name string
	Kind types.Kind
}

// InspectedStream describes one table visible to the configured
// principal, per §4.3 inspect_streams.
type InspectedStream struct {
	SchemaName string
	StreamName string
	Fields     []InspectedField
}

// systemSchemas are excluded from InspectStreams, per §4.3.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"sys":                true,
	"sqlite_master":      true,
}

// StreamSpec configures one stream to read, built by the Transfer
// command per model, per §4.7 step 5.
type StreamSpec struct {
	SchemaName   string
	TableName    string
	PrimaryField string
	CursorField  string
	Filters      map[string]any
	DropFields   []string
}

// ReadConfig configures one Source.Read call.
type ReadConfig struct {
	Mode         schedule.Mode
	Streams      []StreamSpec
	ChunkSize    int
	BatchID      string
	LastSyncedAt *time.Time
	Cache        stream.Cache
	Namespace    string
	Dt           string
}

// Source is the connector interface every vendor adapter implements,
// per §4.3.
type Source interface {
	TestConnect(ctx context.Context) error
	InspectStreams(ctx context.Context) ([]InspectedStream, error)
	Read(ctx context.Context, cfg ReadConfig, agg *progress.Aggregator) (*stream.Dataset, error)
	Close() error
}

// Constructor builds a Source from its ConnectionInfo.
type Constructor func(info connection.Info) (Source, error)

var registry = map[connection.VendorType]Constructor{}

// Register installs a vendor adapter constructor. Called from each
// adapter's init().
func Register(vendor connection.VendorType, ctor Constructor) {
	registry[vendor] = ctor
}

// New dispatches to the registered constructor for info.VendorType, per
// the "Dynamic connection-info dispatch" design note.
func New(info connection.Info) (Source, error) {
	if err := info.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "invalid connection info", err)
	}
	ctor, ok := registry[info.VendorType]
	if !ok {
		return nil, xerrors.New(xerrors.SourceConnectionFailed, fmt.Sprintf("no source registered for vendor_type %q", info.VendorType))
	}
	return ctor(info)
}

// entityURI builds the progress entity URI for a source stream, per
// §4.7: "source+<vendor>://<namespace>/<schema>/<table>".
func entityURI(vendor connection.VendorType, namespace, schemaName, table string) string {
	return fmt.Sprintf("source+%s://%s/%s/%s", vendor, namespace, schemaName, table)
}
