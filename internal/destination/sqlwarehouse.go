package destination

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/source"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// warehouseDialect is the small set of SQL fragments that differ between
// the database/sql-backed warehouse destinations (currently postgres only),
// per the "Staging-and-merge warehouse protocol" design note: one
// generic write path, one dialect strategy object per vendor.
type warehouseDialect interface {
	dialect() types.Dialect
	createTable(schemaName, tableName string, schema types.Schema) (string, error)
	truncateTable(schemaName, tableName string) (string, error)
	createStagingLike(schemaName, stagingTable, sourceTable string) (string, error)
	dropTable(schemaName, tableName string) (string, error)
	upsert(schemaName, targetTable, stagingTable string, schema types.Schema, primaryField string) (string, error)
	columnExistsQuery() string
}

// sqlWarehouse implements Destination over a generic database/sql
// connection plus a dialect strategy, per §4.4 and §4.5's
// staging-and-merge protocol: FULL_REFRESH truncates and bulk-inserts
// directly; INCREMENTAL loads into a staging table and merges by
// primary key.
type sqlWarehouse struct {
	db      *sql.DB
	dia     warehouseDialect
	schemaCache map[string]types.Schema
}

func newSQLWarehouse(db *sql.DB, dia warehouseDialect) *sqlWarehouse {
	return &sqlWarehouse{db: db, dia: dia, schemaCache: map[string]types.Schema{}}
}

func (w *sqlWarehouse) TestConnect(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *sqlWarehouse) Close() error { return w.db.Close() }

// RowCount implements IntegrityChecker: a plain `SELECT count(1)`
// against the landed table, per §4.4's post-write integrity check.
func (w *sqlWarehouse) RowCount(ctx context.Context, schemaName, tableName string) (int64, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return 0, err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return 0, err
	}
	var n int64
	err = w.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(1) FROM %s.%s", qSchema, qTable)).Scan(&n)
	return n, err
}

func (w *sqlWarehouse) existingSchema(ctx context.Context, schemaName, tableName string) (types.Schema, bool, error) {
	rows, err := w.db.QueryContext(ctx, w.dia.columnExistsQuery(), schemaName, tableName)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out types.Schema
	for rows.Next() {
		var name, sqlType string
		var scale int
		if err := rows.Scan(&name, &sqlType, &scale); err != nil {
			return nil, false, err
		}
		kind, err := types.FromPostgres(sqlType, scale)
		if err != nil {
			continue
		}
		out = append(out, types.Field{Name: name, Kind: kind})
	}
	return out, len(out) > 0, rows.Err()
}

// Write implements the Destination interface's staging-and-merge
// protocol, per §4.4 step 2 (schema gate), step 3 (mode dispatch), and
// step 4 (bulk load).
func (w *sqlWarehouse) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

	existing, ok, err := w.existingSchema(ctx, schemaName, tableName)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "inspecting destination schema", err)
	}
	if ok && !types.SchemasCompatible(existing, schema) {
		return 0, xerrors.New(xerrors.DestinationStreamInvalidSchema,
			fmt.Sprintf("%s.%s: destination schema incompatible with incoming schema", schemaName, tableName))
	}
	if !ok {
		ddl, err := w.dia.createTable(schemaName, tableName, schema)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "building create table DDL", err)
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating destination table", err)
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

	targetTable := tableName
	if cfg.Mode.Type == schedule.Incremental {
		staging := fmt.Sprintf("%s_staging_%s", tableName, shortID(cfg.BatchID))
		ddl, err := w.dia.createStagingLike(schemaName, staging, tableName)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "building staging table DDL", err)
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "creating staging table", err)
		}
		defer func() {
			drop, _ := w.dia.dropTable(schemaName, staging)
			if drop != "" {
				w.db.ExecContext(context.Background(), drop)
			}
		}()
		targetTable = staging
	} else {
		trunc, err := w.dia.truncateTable(schemaName, tableName)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "building truncate statement", err)
		}
		if _, err := w.db.ExecContext(ctx, trunc); err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationConnectionFailed, "truncating destination table before full refresh", err)
		}
	}

	n, err := w.bulkInsert(ctx, schemaName, targetTable, schema, records, tracker)
	if err != nil {
		return n, err
	}

	if cfg.Mode.Type == schedule.Incremental {
		primary := schema[0].Name
		merge, err := w.dia.upsert(schemaName, tableName, targetTable, schema, primary)
		if err != nil {
			return n, xerrors.Wrap(xerrors.DestinationConnectionFailed, "building upsert statement", err)
		}
		if _, err := w.db.ExecContext(ctx, merge); err != nil {
			return n, xerrors.Wrap(xerrors.DestinationConnectionFailed, "merging staged rows into target", err)
		}
	}

	return n, nil
}

func (w *sqlWarehouse) bulkInsert(ctx context.Context, schemaName, tableName string, schema types.Schema,
	records []stream.Record, tracker *progress.Tracker) (int64, error) {

	cols := schema.Names()
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		q, err := source.QuoteIdent(c)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "quoting column identifier", err)
		}
		quotedCols[i] = q
	}
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "quoting schema identifier", err)
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "quoting table identifier", err)
	}

	const batchSize = 500
	var written int64
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		var rowTuples []string
		for _, rec := range batch {
			lits := make([]string, len(rec))
			for i, v := range rec {
				lit, err := source.EscapeLiteral(v.V)
				if err != nil {
					return written, xerrors.Wrap(xerrors.DestinationStreamInvalidSchema, "escaping literal value", err)
				}
				lits[i] = lit
			}
			rowTuples = append(rowTuples, "("+strings.Join(lits, ", ")+")")
		}

		q := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES %s",
			qSchema, qTable, strings.Join(quotedCols, ", "), strings.Join(rowTuples, ", "))
		if _, err := w.db.ExecContext(ctx, q); err != nil {
			return written, xerrors.Wrap(xerrors.DestinationConnectionFailed, "bulk inserting batch", err)
		}

		written += int64(len(batch))
		if tracker != nil {
			tracker.Add(int64(len(batch)), "")
		}
	}
	return written, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}
