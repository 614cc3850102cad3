package source

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorBigQuery, newBigQuerySource)
}

type bqSource struct {
	info    connection.Info
	client  *bigquery.Client
}

func newBigQuerySource(info connection.Info) (Source, error) {
	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, info.ProjectID, option.WithCredentialsJSON([]byte(info.ServiceAccount)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "opening bigquery client", err)
	}
	return &bqSource{info: info, client: client}, nil
}

func (b *bqSource) TestConnect(ctx context.Context) error {
	it := b.client.Datasets(ctx)
	_, err := it.Next()
	if err != nil && err != iterator.Done {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "bigquery dataset listing", err)
	}
	return nil
}

func (b *bqSource) Close() error { return b.client.Close() }

func (b *bqSource) InspectStreams(ctx context.Context) ([]InspectedStream, error) {
	var out []InspectedStream
	dsIt := b.client.Datasets(ctx)
	for {
		ds, err := dsIt.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "listing bigquery datasets", err)
		}
		if systemSchemas[ds.DatasetID] {
			continue
		}
		tblIt := ds.Tables(ctx)
		for {
			tbl, err := tblIt.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "listing bigquery tables", err)
			}
			md, err := tbl.Metadata(ctx)
			if err != nil {
				continue
			}
			s := InspectedStream{SchemaName: ds.DatasetID, StreamName: tbl.TableID}
			for _, col := range md.Schema {
				kind, err := types.FromBigQuery(string(col.Type))
				if err != nil {
					continue
				}
				s.Fields = append(s.Fields, InspectedField{Name: col.Name, Kind: kind})
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func (b *bqSource) inspectOne(ctx context.Context, schemaName, tableName string) (types.Schema, error) {
	md, err := b.client.DatasetInProject(b.info.ProjectID, schemaName).Table(tableName).Metadata(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.SourceStreamDoesNotExist,
			fmt.Sprintf("%s.%s metadata lookup", schemaName, tableName), err)
	}
	out := make(types.Schema, 0, len(md.Schema))
	for _, col := range md.Schema {
		kind, err := types.FromBigQuery(string(col.Type))
		if err != nil {
			continue
		}
		out = append(out, types.Field{Name: col.Name, Kind: kind})
	}
	return out, nil
}

func (b *bqSource) Read(ctx context.Context, cfg ReadConfig, agg *progress.Aggregator) (*stream.Dataset, error) {
	ds := stream.NewDataset(cfg.Namespace, cfg.BatchID, cfg.Dt, cfg.Cache)
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	for _, spec := range cfg.Streams {
		schema, err := b.inspectOne(ctx, spec.SchemaName, spec.TableName)
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

		if err := b.readStream(ctx, s, spec, schema, cfg, chunkSize, ds, agg); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

func (b *bqSource) readStream(ctx context.Context, s *stream.Stream, spec StreamSpec, schema types.Schema,
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

	query, err := BuildSelect(selSpec)
	if err != nil {
		return xerrors.Wrap(xerrors.SourceStreamInvalidSchema, "building select query", err)
	}
	// BigQuery uses a flat project.dataset.table addressing scheme rather
	// than schema.table; sqlgen's generic "schema"."table" form still
	// parses as a valid standard-SQL qualified reference here because
	// BigQuery accepts double-quoted identifiers in GoogleSQL.
	q := b.client.Query(query)

	it, err := q.Read(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.SourceConnectionFailed, "issuing bigquery job", err)
	}

	uri := entityURI(connection.VendorBigQuery, cfg.Namespace, spec.SchemaName, spec.TableName)
	tracker := progress.New(uri, int64(it.TotalRows))
	if agg != nil {
		tracker.Subscribe(agg.Observe)
	}
	if it.TotalRows == 0 {
		tracker.Message("no matching rows")
		return nil
	}

	buf := make([]stream.Record, 0, chunkSize)
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return xerrors.Wrap(xerrors.SourceConnectionFailed, "iterating bigquery rows", err)
		}
		rec := make(stream.Record, len(schema))
		for i, f := range schema {
			rec[i] = stream.Value{Kind: f.Kind, V: row[i]}
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
	if len(buf) > 0 {
		n, err := ds.Write(ctx, s, buf)
		if err != nil {
			return xerrors.Wrap(xerrors.SourceConnectionFailed, "writing final chunk to cache", err)
		}
		tracker.Add(int64(n), "")
	}

	return nil
}
