package destination

import (
	"context"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorGCS, newGCSDestination)
}

// gcsDestination mirrors s3Destination for Google Cloud Storage: raw
// Parquet object storage with no warehouse load.
type gcsDestination struct {
	client     *gcs.Client
	bucketName string
	bucketPath string
}

func newGCSDestination(info connection.Info) (Destination, error) {
	ctx := context.Background()
	client, err := gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(info.ServiceAccount)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "opening gcs client", err)
	}
	return &gcsDestination{client: client, bucketName: info.GCSBucketName, bucketPath: info.GCSBucketPath}, nil
}

func (d *gcsDestination) TestConnect(ctx context.Context) error {
	_, err := d.client.Bucket(d.bucketName).Attrs(ctx)
	return err
}

func (d *gcsDestination) Close() error { return d.client.Close() }

func (d *gcsDestination) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	return 0, xerrors.New(xerrors.IntegrityCheckFailed, "gcs destination does not support row count verification")
}

func (d *gcsDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

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
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "encoding parquet file", err)
	}

	key := objectStoreHiveKey(d.bucketPath, tableName, cfg.Dt, cfg.BatchID, 0, time.Now())
	w := d.client.Bucket(d.bucketName).Object(key).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, fmt.Sprintf("uploading %s", key), err)
	}
	if err := w.Close(); err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "closing gcs object writer", err)
	}

	if tracker != nil {
		tracker.Add(int64(len(records)), "")
	}
	return int64(len(records)), nil
}
