package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/snowflakedb/gosnowflake"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorSnowflake, newSnowflakeSource)
}

const snowflakeCatalogQuery = `
SELECT table_schema, table_name, column_name, data_type, numeric_scale, ordinal_position
FROM information_schema.columns
WHERE table_schema NOT IN ('INFORMATION_SCHEMA')
ORDER BY table_schema, table_name, ordinal_position
`

type snowflakeSource struct {
	info connection.Info
	db   *sql.DB
}

func newSnowflakeSource(info connection.Info) (Source, error) {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s",
		info.User, info.AccessToken, info.Account, info.Database, info.TargetSchema, info.Warehouse)
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "opening snowflake connection", err)
	}
	return &snowflakeSource{info: info, db: db}, nil
}

func (sf *snowflakeSource) TestConnect(ctx context.Context) error {
	if err := sf.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "snowflake ping", err)
	}
	return nil
}

func (sf *snowflakeSource) Close() error { return sf.db.Close() }

func (sf *snowflakeSource) InspectStreams(ctx context.Context) ([]InspectedStream, error) {
	rows, err := sf.db.QueryContext(ctx, snowflakeCatalogQuery)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "snowflake information_schema query", err)
	}
	defer rows.Close()

	byTable := map[string]*InspectedStream{}
	var order []string

	for rows.Next() {
		var schemaName, tableName, colName, dataType string
		var scale sql.NullInt64
		var ordinal int
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
		kind, err := types.FromSnowflake(dataType, int(scale.Int64))
		if err != nil {
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

func (sf *snowflakeSource) inspectOne(ctx context.Context, schemaName, tableName string) (types.Schema, error) {
	all, err := sf.InspectStreams(ctx)
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

func (sf *snowflakeSource) Read(ctx context.Context, cfg ReadConfig, agg *progress.Aggregator) (*stream.Dataset, error) {
	ds := stream.NewDataset(cfg.Namespace, cfg.BatchID, cfg.Dt, cfg.Cache)
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	for _, spec := range cfg.Streams {
		schema, err := sf.inspectOne(ctx, spec.SchemaName, spec.TableName)
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

		if err := sf.readStream(ctx, s, spec, schema, cfg, chunkSize, ds, agg); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

func (sf *snowflakeSource) readStream(ctx context.Context, s *stream.Stream, spec StreamSpec, schema types.Schema,
	cfg ReadConfig, chunkSize int, ds *stream.Dataset, agg *progress.Aggregator) error {

	selSpec := SelectSpec{
		SchemaName:  spec.SchemaName,
		TableName:   spec.TableName,
		Columns:     schema.Names(),
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
	if err := sf.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "issuing count query", err)
	}

	uri := entityURI(connection.VendorSnowflake, cfg.Namespace, spec.SchemaName, spec.TableName)
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

	rows, err := sf.db.QueryContext(ctx, query)
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
		tracker.Add(int64(n), "")
	}

	return nil
}
