package destination

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorBigQuery, newBigQueryDestination)
}

// bqDestination stages each batch to GCS as Parquet then issues
// `LOAD DATA OVERWRITE ... FROM FILES` (FULL_REFRESH) or loads into a
// staging table and MERGEs (INCREMENTAL), per §4.4's BigQuery-specific
// bulk load path.
type bqDestination struct {
	info        connection.Info
	client      *bigquery.Client
	gcsClient   *gcs.Client
	bucketName  string
	bucketPath  string
}

func newBigQueryDestination(info connection.Info) (Destination, error) {
	ctx := context.Background()
	opt := option.WithCredentialsJSON([]byte(info.ServiceAccount))

	client, err := bigquery.NewClient(ctx, info.ProjectID, opt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "opening bigquery client", err)
	}
	gcsClient, err := gcs.NewClient(ctx, opt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "opening gcs client", err)
	}

	return &bqDestination{
		info:       info,
		client:     client,
		gcsClient:  gcsClient,
		bucketName: info.GCSBucketName,
		bucketPath: info.GCSBucketPath,
	}, nil
}

func (b *bqDestination) TestConnect(ctx context.Context) error {
	_, err := b.client.Dataset(b.info.TargetSchema).Metadata(ctx)
	return err
}

func (b *bqDestination) Close() error {
	b.gcsClient.Close()
	return b.client.Close()
}

// RowCount implements IntegrityChecker.
func (b *bqDestination) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	query := fmt.Sprintf("SELECT count(1) FROM `%s`.`%s`.`%s`", b.info.ProjectID, schemaName, tableName)
	it, err := b.client.Query(query).Read(ctx)
	if err != nil {
		return 0, err
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		return 0, err
	}
	n, _ := row[0].(int64)
	return n, nil
}

func (b *bqDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

	tbl := b.client.DatasetInProject(b.info.ProjectID, schemaName).Table(tableName)
	md, err := tbl.Metadata(ctx)
	exists := err == nil

	if exists {
		existing, convErr := bqSchemaToCanonical(md.Schema)
		if convErr == nil && !types.SchemasCompatible(existing, schema) {
			return 0, xerrors.New(xerrors.DestinationStreamInvalidSchema,
				fmt.Sprintf("%s.%s: destination schema incompatible with incoming schema", schemaName, tableName))
		}
	} else {
		bqSchema, err := canonicalToBQSchema(schema)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "building bigquery schema", err)
		}
		if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: bqSchema}); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating bigquery destination table", err)
		}
	}

	records, err := drainAll(ctx, cur)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "draining source cursor", err)
	}
	if len(records) == 0 {
		if tracker != nil {
			tracker.Message("no records to write")
		}
		return 0, nil
	}

	body, err := encodeParquet(schema, records, CompressionNone)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "encoding parquet batch", err)
	}

	key := objectStoreStagingKey(b.bucketPath, cfg.Namespace, schemaName, tableName, cfg.Dt, cfg.BatchID, 0)
	obj := b.gcsClient.Bucket(b.bucketName).Object(key)
	w := obj.NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "uploading staging parquet file to gcs", err)
	}
	if err := w.Close(); err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "closing gcs object writer", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", b.bucketName, key)

	targetTable := tableName
	if cfg.Mode.Type == schedule.Incremental {
		staging := fmt.Sprintf("%s_staging_%s", tableName, shortID(cfg.BatchID))
		stagingTbl := b.client.DatasetInProject(b.info.ProjectID, schemaName).Table(staging)
		bqSchema, err := canonicalToBQSchema(schema)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "building bigquery staging schema", err)
		}
		if err := stagingTbl.Create(ctx, &bigquery.TableMetadata{Schema: bqSchema}); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating bigquery staging table", err)
		}
		defer stagingTbl.Delete(context.Background())
		targetTable = staging

		if err := b.loadFromURI(ctx, schemaName, targetTable, uri, true); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "loading staging data from gcs", err)
		}
		if err := b.mergeStaging(ctx, schemaName, tableName, targetTable, schema); err != nil {
			return int64(len(records)), xerrors.Wrap(xerrors.DestinationConnectionFailed, "merging staged rows into target", err)
		}
	} else {
		if err := b.loadFromURI(ctx, schemaName, targetTable, uri, true); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "loading data from gcs", err)
		}
	}

	if tracker != nil {
		tracker.Add(int64(len(records)), "")
	}
	return int64(len(records)), nil
}

func (b *bqDestination) loadFromURI(ctx context.Context, schemaName, tableName, uri string, overwrite bool) error {
	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = bigquery.Parquet

	loader := b.client.DatasetInProject(b.info.ProjectID, schemaName).Table(tableName).LoaderFrom(ref)
	if overwrite {
		loader.WriteDisposition = bigquery.WriteTruncate
	} else {
		loader.WriteDisposition = bigquery.WriteAppend
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (b *bqDestination) mergeStaging(ctx context.Context, schemaName, targetTable, stagingTable string, schema types.Schema) error {
	primary := schema[0].Name
	var updates, insertCols, insertVals string
	for i, f := range schema {
		if i > 0 {
			insertCols += ", "
			insertVals += ", "
		}
		insertCols += f.Name
		insertVals += "S." + f.Name
		if f.Name != primary {
			if updates != "" {
				updates += ", "
			}
			updates += fmt.Sprintf("T.%s = S.%s", f.Name, f.Name)
		}
	}

	query := fmt.Sprintf(
		"MERGE `%s`.`%s`.`%s` T USING `%s`.`%s`.`%s` S ON T.%s = S.%s "+
			"WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		b.info.ProjectID, schemaName, targetTable, b.info.ProjectID, schemaName, stagingTable,
		primary, primary, updates, insertCols, insertVals,
	)
	q := b.client.Query(query)
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func canonicalToBQSchema(schema types.Schema) (bigquery.Schema, error) {
	out := make(bigquery.Schema, len(schema))
	for i, f := range schema {
		var t bigquery.FieldType
		switch f.Kind {
		case types.Int64:
			t = bigquery.IntegerFieldType
		case types.Float64:
			t = bigquery.FloatFieldType
		case types.Bool:
			t = bigquery.BooleanFieldType
		case types.Binary:
			t = bigquery.BytesFieldType
		case types.Date:
			t = bigquery.DateFieldType
		case types.Time:
			t = bigquery.TimeFieldType
		case types.TimestampUTC:
			t = bigquery.TimestampFieldType
		default:
			t = bigquery.StringFieldType
		}
		out[i] = &bigquery.FieldSchema{Name: f.Name, Type: t}
	}
	return out, nil
}

func bqSchemaToCanonical(schema bigquery.Schema) (types.Schema, error) {
	out := make(types.Schema, 0, len(schema))
	for _, f := range schema {
		kind, err := types.FromBigQuery(string(f.Type))
		if err != nil {
			continue
		}
		out = append(out, types.Field{Name: f.Name, Kind: kind})
	}
	return out, nil
}
