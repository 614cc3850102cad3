package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorPostgreSQL, newPostgresSource)
	Register(connection.VendorRedshift, newRedshiftSource)
}

// pgCatalogQuery lists every column of every non-system table, with its
// declared type and NUMERIC scale, per §4.3 inspect_streams.
const pgCatalogQuery = `
SELECT table_schema, table_name, column_name, data_type,
       COALESCE(numeric_scale, 0), ordinal_position
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position
`

type pgSource struct {
	vendor connection.VendorType
	info   connection.Info
	db     *sql.DB
}

func newPostgresSource(info connection.Info) (Source, error) {
	return newPgSource(connection.VendorPostgreSQL, info)
}

func newRedshiftSource(info connection.Info) (Source, error) {
	return newPgSource(connection.VendorRedshift, info)
}

func newPgSource(vendor connection.VendorType, info connection.Info) (Source, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=require",
		info.Host, pgPort(info), info.User, info.Password, info.Database)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, fmt.Sprintf("opening %s connection", vendor), err)
	}
	return &pgSource{vendor: vendor, info: info, db: db}, nil
}

func pgPort(info connection.Info) int {
	if info.Port != 0 {
		return info.Port
	}
	return 5432
}

func (p *pgSource) TestConnect(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, fmt.Sprintf("%s ping", p.vendor), err)
	}
	return nil
}

func (p *pgSource) Close() error { return p.db.Close() }

func (p *pgSource) InspectStreams(ctx context.Context) ([]InspectedStream, error) {
	rows, err := p.db.QueryContext(ctx, pgCatalogQuery)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, fmt.Sprintf("%s information_schema query", p.vendor), err)
	}
	defer rows.Close()

	byTable := map[string]*InspectedStream{}
	var order []string

	for rows.Next() {
		var schemaName, tableName, colName, dataType string
		var scale, ordinal int
		if err := rows.Scan(&schemaName, &tableName, &colName, &dataType, &scale, &ordinal); err != nil {
			return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "scanning information_schema row", err)
		}
		if systemSchemas[schemaName] {
			continue
		}
		key := schemaName + "." + tableName
		s, ok := byTable[key]
		if !ok {
			s = &InspectedStream{SchemaName: schemaName, StreamName: tableName}
			byTable[key] = s
			order = append(order, key)
		}
		kind, err := fromVendorType(p.vendor, dataType, scale)
		if err != nil {
			// Unsupported column types are skipped rather than failing the
			// whole inspect_streams call, per §4.3's tolerant-inspection
			// design note: a table with one opaque column is still usable
			// for its supported columns.
			continue
		}
		s.Fields = append(s.Fields, InspectedField{Name: colName, Kind: kind})
	}

	out := make([]InspectedStream, 0, len(order))
	for _, key := range order {
		out = append(out, *byTable[key])
	}
	return out, nil
}

func fromVendorType(vendor connection.VendorType, sqlType string, scale int) (types.Kind, error) {
	switch vendor {
	case connection.VendorRedshift:
		return types.FromRedshift(sqlType, scale)
	default:
		return types.FromPostgres(sqlType, scale)
	}
}

func (p *pgSource) Read(ctx context.Context, cfg ReadConfig, agg *progress.Aggregator) (*stream.Dataset, error) {
	ds := stream.NewDataset(cfg.Namespace, cfg.BatchID, cfg.Dt, cfg.Cache)
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	for _, spec := range cfg.Streams {
		schema, err := p.inspectOne(ctx, spec.SchemaName, spec.TableName)
		if err != nil {
			return nil, err
		}

		s := stream.New(spec.TableName, spec.SchemaName, schema)
		s.PrimaryField = spec.PrimaryField
		s.CursorField = spec.CursorField
		s.Filters = spec.Filters
		for _, d := range spec.DropFields {
			s.DropField(d)
		}
		if cfg.BatchID != "" {
			s.WithBatchID(cfg.BatchID)
		}
		if cfg.LastSyncedAt != nil {
			s.WithLastSyncedAt(*cfg.LastSyncedAt)
		}
		if err := s.Validate(); err != nil {
			return nil, xerrors.Wrap(xerrors.SourceStreamInvalidSchema, "stream validation", err)
		}
		ds.AddStream(s)

		if err := p.readStream(ctx, s, spec, schema, cfg, chunkSize, ds, agg); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

func (p *pgSource) inspectOne(ctx context.Context, schemaName, tableName string) (types.Schema, error) {
	all, err := p.InspectStreams(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.SchemaName == schemaName && s.StreamName == tableName {
			out := make(types.Schema, len(s.Fields))
			for i, f := range s.Fields {
				out[i] = types.Field{Name: f.Name, Kind: f.Kind}
			}
			return out, nil
		}
	}
	return nil, xerrors.New(xerrors.SourceStreamDoesNotExist,
		fmt.Sprintf("%s.%s not found or has no supported columns", schemaName, tableName))
}

func (p *pgSource) readStream(ctx context.Context, s *stream.Stream, spec StreamSpec, schema types.Schema,
	cfg ReadConfig, chunkSize int, ds *stream.Dataset, agg *progress.Aggregator) error {

	cols := schema.Names()

	selSpec := SelectSpec{
		SchemaName:  spec.SchemaName,
		TableName:   spec.TableName,
		Columns:     cols,
		CursorField: spec.CursorField,
		Filters:     spec.Filters,
	}
	if cfg.Mode.Type == schedule.Incremental {
		selSpec.IncStart = cfg.Mode.Start
		selSpec.IncEnd = cfg.Mode.End
	}

	countQuery, err := BuildCount(selSpec)
	if err != nil {
		return xerrors.Wrap(xerrors.SourceStreamInvalidSchema, "building count query", err)
	}
	var total int64
	if err := p.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "issuing count query", err)
	}

	uri := entityURI(p.vendor, cfg.Namespace, spec.SchemaName, spec.TableName)
	tracker := progress.New(uri, total)
	if agg != nil {
		tracker.Subscribe(agg.Observe)
	}

	if total == 0 {
		tracker.Message("no matching rows")
		return nil
	}

	query, err := BuildSelect(selSpec)
	if err != nil {
		return xerrors.Wrap(xerrors.SourceStreamInvalidSchema, "building select query", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "issuing select query", err)
	}
	defer rows.Close()

	buf := make([]stream.Record, 0, chunkSize)
	scanDest := make([]any, len(schema))
	scanPtrs := make([]any, len(schema))
	for i := range scanDest {
		scanPtrs[i] = &scanDest[i]
	}

	var written int64
	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return xerrors.Wrap(xerrors.SourceConnectionFailed, "scanning row", err)
		}
		rec := make(stream.Record, len(schema))
		for i, f := range schema {
			rec[i] = stream.Value{Kind: f.Kind, V: coerceScanned(f.Kind, scanDest[i])}
		}
		buf = append(buf, s.Materialize(rec))

		if len(buf) >= chunkSize {
			n, err := ds.Write(ctx, s, buf)
			if err != nil {
				return xerrors.Wrap(xerrors.SourceConnectionFailed, "writing chunk to cache", err)
			}
			written += int64(n)
			tracker.Add(int64(n), "")
			buf = buf[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "iterating rows", err)
	}
	if len(buf) > 0 {
		n, err := ds.Write(ctx, s, buf)
		if err != nil {
			return xerrors.Wrap(xerrors.SourceConnectionFailed, "writing final chunk to cache", err)
		}
		written += int64(n)
		tracker.Add(int64(n), "")
	}

	return nil
}

// coerceScanned normalises a database/sql scan result ([]byte for
// text-ish drivers, driver-native numeric types) to the Go value the
// canonical Kind expects.
func coerceScanned(kind types.Kind, v any) any {
	if b, ok := v.([]byte); ok {
		s := string(b)
		switch kind {
		case types.Int64:
			var n int64
			fmt.Sscanf(s, "%d", &n)
			return n
		case types.Float64:
			var f float64
			fmt.Sscanf(s, "%g", &f)
			return f
		case types.Bool:
			return s == "t" || s == "true" || s == "TRUE" || s == "1"
		default:
			return s
		}
	}
	if kind == types.TimestampUTC || kind == types.Date || kind == types.Time {
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}
