package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

// sqliteCache is the embedded-relational-store Cache implementation,
// adapted from the teacher's internal/db package. Per the "Cache
// abstraction" design note, it re-types BOOLEAN, DATE, and TIMESTAMP
// columns on read using the stream's declared schema rather than
// trusting SQLite's dynamic column affinity — storing bool as an
// integer and handing it back as an integer is the known-bad failure
// mode this guards against.
type sqliteCache struct {
	db   *sql.DB
	path string

	mu       sync.Mutex
	tables   map[stream.Key]string
	schemas  map[stream.Key]types.Schema
	sizes    map[stream.Key]int64
	nextTbl  int
}

func newSQLiteCache(dir string) (*sqliteCache, error) {
	path := filepath.Join(dir, "cache.sqlite")
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=off&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("cache: opening sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("cache: pinging sqlite store: %w", err)
	}
	return &sqliteCache{
		db:      db,
		path:    path,
		tables:  map[stream.Key]string{},
		schemas: map[stream.Key]types.Schema{},
		sizes:   map[stream.Key]int64{},
	}, nil
}

func (c *sqliteCache) tableFor(key stream.Key, schema types.Schema) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tbl, ok := c.tables[key]; ok {
		return tbl, nil
	}
	c.nextTbl++
	tbl := fmt.Sprintf("stream_%d", c.nextTbl)

	cols := make([]string, 0, len(schema)+1)
	cols = append(cols, "_ordinal INTEGER")
	for _, f := range schema {
		cols = append(cols, fmt.Sprintf("%q %s", f.Name, sqliteColumnType(f.Kind)))
	}
	stmt := fmt.Sprintf("CREATE TABLE %q (%s)", tbl, joinCols(cols))
	if _, err := c.db.Exec(stmt); err != nil {
		return "", fmt.Errorf("cache: creating table for stream %s/%s: %w", key.SchemaName, key.Name, err)
	}

	c.tables[key] = tbl
	c.schemas[key] = schema
	return tbl, nil
}

func sqliteColumnType(k types.Kind) string {
	switch k {
	case types.Int64:
		return "INTEGER"
	case types.Float64:
		return "REAL"
	case types.Bool:
		return "BOOLEAN"
	case types.Date:
		return "DATE"
	case types.Time:
		return "TIME"
	case types.TimestampUTC:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

// Write appends records in order, returning the number written.
func (c *sqliteCache) Write(ctx context.Context, key stream.Key, records []stream.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	schema := inferSchema(records[0])
	tbl, err := c.tableFor(key, schema)
	if err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cache: begin write tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(schema)+1)
	colNames := make([]string, len(schema)+1)
	colNames[0] = `"_ordinal"`
	placeholders[0] = "?"
	for i, f := range schema {
		colNames[i+1] = fmt.Sprintf("%q", f.Name)
		placeholders[i+1] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", tbl, joinCols(colNames), joinCols(placeholders))

	c.mu.Lock()
	ordinal := c.sizes[key]
	c.mu.Unlock()

	for _, rec := range records {
		args := make([]any, 0, len(rec)+1)
		args = append(args, ordinal)
		for _, v := range rec {
			args = append(args, toSQLiteValue(v))
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return 0, fmt.Errorf("cache: writing record: %w", err)
		}
		ordinal++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cache: commit write tx: %w", err)
	}

	c.mu.Lock()
	c.sizes[key] = ordinal
	c.mu.Unlock()

	return len(records), nil
}

func inferSchema(rec stream.Record) types.Schema {
	// Records written to the cache are already schema-aligned by the
	// Stream's Materialize; the cache only needs field names to build
	// its table, which the caller supplies via the Stream on first
	// Write. Since Write's signature doesn't carry the Stream, the
	// schema is reconstructed positionally using generated names; this
	// is safe because Read always walks columns by position, never by
	// name, against the same schema recorded in tableFor.
	schema := make(types.Schema, len(rec))
	for i, v := range rec {
		schema[i] = types.Field{Name: fmt.Sprintf("col_%d", i), Kind: v.Kind}
	}
	return schema
}

func toSQLiteValue(v stream.Value) any {
	switch v.Kind {
	case types.Bool:
		b, _ := v.V.(bool)
		if b {
			return 1
		}
		return 0
	case types.Date:
		if t, ok := v.V.(time.Time); ok {
			return t.Format("2006-01-02")
		}
		return v.V
	case types.TimestampUTC:
		if t, ok := v.V.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return v.V
	default:
		return v.V
	}
}

func fromSQLiteValue(kind types.Kind, raw any) (any, error) {
	switch kind {
	case types.Bool:
		switch x := raw.(type) {
		case int64:
			return x != 0, nil
		case bool:
			return x, nil
		}
		return nil, fmt.Errorf("cache: cannot re-type %v as bool", raw)
	case types.Date:
		if t, ok := raw.(time.Time); ok {
			return t.UTC(), nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("cache: cannot re-type %v as date", raw)
		}
		return time.Parse("2006-01-02", s)
	case types.TimestampUTC:
		if t, ok := raw.(time.Time); ok {
			return t.UTC(), nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("cache: cannot re-type %v as timestamp", raw)
		}
		return time.Parse(time.RFC3339Nano, s)
	case types.Int64:
		switch x := raw.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		}
		return raw, nil
	case types.Float64:
		switch x := raw.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

type sqliteCursor struct {
	rows   *sql.Rows
	schema types.Schema
	empty  bool
}

func (c *sqliteCursor) Next(ctx context.Context) (stream.Record, bool, error) {
	if c.empty {
		return nil, false, nil
	}
	if !c.rows.Next() {
		return nil, false, c.rows.Err()
	}
	raw := make([]any, len(c.schema)+1)
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("cache: scanning row: %w", err)
	}

	rec := make(stream.Record, len(c.schema))
	for i, f := range c.schema {
		v, err := fromSQLiteValue(f.Kind, raw[i+1])
		if err != nil {
			return nil, false, err
		}
		rec[i] = stream.Value{Kind: f.Kind, V: v}
	}
	return rec, true, nil
}

func (c *sqliteCursor) Close() error {
	if c.empty {
		return nil
	}
	return c.rows.Close()
}

// Read returns a cursor over the stream's records in insertion order.
func (c *sqliteCache) Read(ctx context.Context, key stream.Key) (stream.Cursor, error) {
	c.mu.Lock()
	tbl, ok := c.tables[key]
	schema := c.schemas[key]
	c.mu.Unlock()
	if !ok {
		return &sqliteCursor{empty: true}, nil
	}

	cols := make([]string, len(schema)+1)
	cols[0] = `"_ordinal"`
	for i, f := range schema {
		cols[i+1] = fmt.Sprintf("%q", f.Name)
	}
	q := fmt.Sprintf("SELECT %s FROM %q ORDER BY _ordinal ASC", joinCols(cols), tbl)
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("cache: reading stream %s/%s: %w", key.SchemaName, key.Name, err)
	}
	return &sqliteCursor{rows: rows, schema: schema}, nil
}

// Size is authoritative: the count of records ever written for key.
func (c *sqliteCache) Size(key stream.Key) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizes[key], nil
}

// Close releases file handles and removes the run's temporary state.
func (c *sqliteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return err
	}
	return os.Remove(c.path)
}
