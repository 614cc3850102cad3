package destination

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/snowflakedb/gosnowflake"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/source"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorSnowflake, newSnowflakeDestination)
}

// snowflakeDestination loads through a named internal stage: PUT a
// Parquet file (driver-side, via a local temp file path gosnowflake
// reads with the `file://` PUT syntax) then `COPY INTO` with
// MATCH_BY_COLUMN_NAME, per §4.4's Snowflake-specific bulk load path.
type snowflakeDestination struct {
	db          *sql.DB
	stageName   string
	createStage bool
	deleteStage bool
}

func newSnowflakeDestination(info connection.Info) (Destination, error) {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s",
		info.User, info.AccessToken, info.Account, info.Database, info.TargetSchema, info.Warehouse)
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "opening snowflake destination connection", err)
	}
	stage := info.StageName
	if stage == "" {
		stage = "pontoond_stage"
	}
	return &snowflakeDestination{db: db, stageName: stage, createStage: info.CreateStage, deleteStage: info.DeleteStage}, nil
}

func (s *snowflakeDestination) TestConnect(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *snowflakeDestination) Close() error                         { return s.db.Close() }

// RowCount implements IntegrityChecker.
func (s *snowflakeDestination) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return 0, err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(1) FROM %s.%s", qSchema, qTable)).Scan(&n)
	return n, err
}

func snowflakeStagingLike(schemaName, stagingTable, sourceTable string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qStaging, err := source.QuoteIdent(stagingTable)
	if err != nil {
		return "", err
	}
	qSource, err := source.QuoteIdent(sourceTable)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE %s.%s LIKE %s.%s", qSchema, qStaging, qSchema, qSource), nil
}

func snowflakeDropTable(schemaName, tableName string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", qSchema, qTable), nil
}

func snowflakeTruncateTable(schemaName, tableName string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TRUNCATE TABLE %s.%s", qSchema, qTable), nil
}

func (s *snowflakeDestination) columnExistsQuery() string {
	return `SELECT column_name, data_type, COALESCE(numeric_scale, 0)
FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`
}

func (s *snowflakeDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

	rows, err := s.db.QueryContext(ctx, s.columnExistsQuery(), schemaName, tableName)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "inspecting snowflake destination schema", err)
	}
	var existing types.Schema
	for rows.Next() {
		var name, sqlType string
		var scale int
		if err := rows.Scan(&name, &sqlType, &scale); err == nil {
			if kind, err := types.FromSnowflake(sqlType, scale); err == nil {
				existing = append(existing, types.Field{Name: name, Kind: kind})
			}
		}
	}
	rows.Close()

	if len(existing) > 0 && !types.SchemasCompatible(existing, schema) {
		return 0, xerrors.New(xerrors.DestinationStreamInvalidSchema,
			fmt.Sprintf("%s.%s: destination schema incompatible with incoming schema", schemaName, tableName))
	}
	if len(existing) == 0 {
		ddl, err := snowflakeCreateTable(schemaName, tableName, schema)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "building create table DDL", err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating snowflake destination table", err)
		}
	}

	if s.createStage {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE STAGE IF NOT EXISTS %s", s.stageName)); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating snowflake stage", err)
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

	stagePath, err := s.putParquet(ctx, schemaName, tableName, cfg, schema, records)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "staging parquet file via PUT", err)
	}

	targetTable := tableName
	if cfg.Mode.Type == schedule.Incremental {
		staging := fmt.Sprintf("%s_staging_%s", tableName, shortID(cfg.BatchID))
		ddl, err := snowflakeStagingLike(schemaName, staging, tableName)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "building staging table DDL", err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating snowflake staging table", err)
		}
		defer func() {
			if drop, _ := snowflakeDropTable(schemaName, staging); drop != "" {
				s.db.ExecContext(context.Background(), drop)
			}
		}()
		targetTable = staging
	} else {
		trunc, err := snowflakeTruncateTable(schemaName, tableName)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "building truncate statement", err)
		}
		if _, err := s.db.ExecContext(ctx, trunc); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "truncating destination table before full refresh", err)
		}
	}

	qSchema, _ := source.QuoteIdent(schemaName)
	qTable, _ := source.QuoteIdent(targetTable)
	copyStmt := fmt.Sprintf(
		"COPY INTO %s.%s FROM @%s/%s FILE_FORMAT = (TYPE = PARQUET) MATCH_BY_COLUMN_NAME = CASE_INSENSITIVE PATTERN = '.*\\.parquet'",
		qSchema, qTable, s.stageName, stagePath,
	)
	if _, err := s.db.ExecContext(ctx, copyStmt); err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "issuing snowflake COPY INTO", err)
	}
	if tracker != nil {
		tracker.Add(int64(len(records)), "")
	}

	if cfg.Mode.Type == schedule.Incremental {
		if err := s.mergeStaging(ctx, schemaName, tableName, targetTable, schema); err != nil {
			return int64(len(records)), xerrors.Wrap(xerrors.DestinationConnectionFailed, "merging staged rows into target", err)
		}
	}

	if s.deleteStage {
		s.db.ExecContext(ctx, fmt.Sprintf("DROP STAGE IF EXISTS %s", s.stageName))
	}

	return int64(len(records)), nil
}

// putParquet encodes records and issues a Snowflake `PUT` of the
// resulting file into the named stage's run-scoped subdirectory,
// returning the stage-relative path COPY INTO should read from.
func (s *snowflakeDestination) putParquet(ctx context.Context, schemaName, tableName string, cfg WriteConfig,
	schema types.Schema, records []stream.Record) (string, error) {

	body, err := encodeParquet(schema, records, CompressionNone)
	if err != nil {
		return "", err
	}

	subdir := fmt.Sprintf("%s/%s__%s/%s", cfg.Namespace, schemaName, tableName, cfg.BatchID)

	// gosnowflake's PUT command reads from a local file path, not a byte
	// stream, so the encoded file is staged to disk first.
	f, err := os.CreateTemp("", "pontoond-snowflake-*.parquet")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	put := fmt.Sprintf("PUT 'file://%s' @%s/%s AUTO_COMPRESS=FALSE OVERWRITE=TRUE", f.Name(), s.stageName, subdir)
	if _, err := s.db.ExecContext(ctx, put); err != nil {
		return "", err
	}

	return subdir, nil
}

func (s *snowflakeDestination) mergeStaging(ctx context.Context, schemaName, targetTable, stagingTable string, schema types.Schema) error {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return err
	}
	qTarget, err := source.QuoteIdent(targetTable)
	if err != nil {
		return err
	}
	qStaging, err := source.QuoteIdent(stagingTable)
	if err != nil {
		return err
	}
	primary := schema[0].Name
	qPrimary, err := source.QuoteIdent(primary)
	if err != nil {
		return err
	}

	updates := make([]string, 0, len(schema))
	cols := make([]string, len(schema))
	for i, f := range schema {
		qCol, err := source.QuoteIdent(f.Name)
		if err != nil {
			return err
		}
		cols[i] = qCol
		if f.Name != primary {
			updates = append(updates, fmt.Sprintf("target.%s = source.%s", qCol, qCol))
		}
	}

	merge := fmt.Sprintf(
		"MERGE INTO %s.%s AS target USING %s.%s AS source ON target.%s = source.%s "+
			"WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		qSchema, qTarget, qSchema, qStaging, qPrimary, qPrimary,
		strings.Join(updates, ", "), strings.Join(cols, ", "), prefixed("source.", cols),
	)
	_, err = s.db.ExecContext(context.Background(), merge)
	return err
}

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

func snowflakeCreateTable(schemaName, tableName string, schema types.Schema) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	cols := make([]string, len(schema))
	for i, f := range schema {
		qCol, err := source.QuoteIdent(f.Name)
		if err != nil {
			return "", err
		}
		cols[i] = fmt.Sprintf("%s %s", qCol, types.DDL(f.Kind, types.DialectSnowflake))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (%s)", qSchema, qTable, strings.Join(cols, ", ")), nil
}
