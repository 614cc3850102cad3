package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/arrow"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/ipc"
	"github.com/apache/arrow/go/arrow/memory"

	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

// arrowCache is the columnar-append-file Cache implementation: one
// Arrow-IPC stream-framed file per (schema_name, name), written once and
// read back start-to-finish, per §4.2. It is the default backend.
type arrowCache struct {
	dir string
	mem memory.Allocator

	mu      sync.Mutex
	streams map[stream.Key]*arrowStreamState
}

type arrowStreamState struct {
	path       string
	arrowKinds []types.Kind
	fieldNames []string
	schema     *arrow.Schema
	size       int64

	file   *os.File
	writer *ipc.Writer
}

// finalize closes the stream's IPC writer (flushing the end-of-stream
// marker) and its underlying file, if still open. Idempotent.
func (st *arrowStreamState) finalize() error {
	if st.writer == nil {
		return nil
	}
	err := st.writer.Close()
	st.writer = nil
	if cerr := st.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	st.file = nil
	return err
}

func newArrowCache(dir string) (*arrowCache, error) {
	return &arrowCache{
		dir:     dir,
		mem:     memory.NewGoAllocator(),
		streams: map[stream.Key]*arrowStreamState{},
	}, nil
}

func arrowSchemaFor(kinds []types.Kind, names []string) *arrow.Schema {
	fields := make([]arrow.Field, len(kinds))
	for i, k := range kinds {
		fields[i] = arrow.Field{Name: names[i], Type: arrowDataType(k), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowDataType(k types.Kind) arrow.DataType {
	switch k {
	case types.Int64:
		return arrow.PrimitiveTypes.Int64
	case types.Float64:
		return arrow.PrimitiveTypes.Float64
	case types.Bool:
		return arrow.FixedWidthTypes.Boolean
	case types.Date:
		return arrow.FixedWidthTypes.Date32
	case types.Time:
		return arrow.FixedWidthTypes.Time64us
	case types.TimestampUTC:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		// String and Binary (hex-encoded) both travel as UTF-8 strings,
		// per §4.1 rule (a)/(d).
		return arrow.BinaryTypes.String
	}
}

func (c *arrowCache) stateFor(key stream.Key, sample stream.Record) (*arrowStreamState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.streams[key]; ok {
		return st, nil
	}

	kinds := make([]types.Kind, len(sample))
	names := make([]string, len(sample))
	for i, v := range sample {
		kinds[i] = v.Kind
		names[i] = fmt.Sprintf("col_%d", i)
	}

	fname := fmt.Sprintf("%s__%s.arrow", sanitizeFilePart(key.SchemaName), sanitizeFilePart(key.Name))
	st := &arrowStreamState{
		path:       filepath.Join(c.dir, fname),
		arrowKinds: kinds,
		fieldNames: names,
		schema:     arrowSchemaFor(kinds, names),
	}
	c.streams[key] = st
	return st, nil
}

func sanitizeFilePart(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// Write appends records to the stream's IPC stream. The writer (and the
// schema message it opens with) is opened once per stream on the first
// call and kept open across every subsequent chunked call — internal/
// source readers write one chunk at a time (internal/source.ReadConfig.
// ChunkSize) plus a final partial flush, and each of those calls appends
// one more record-batch message to the same framed stream rather than
// starting a new one. The writer is only closed (writing the
// end-of-stream marker) by Read or Close, via finalize. Per §4.2's
// single-writer-per-stream rule, this is never called concurrently for
// the same key within one run.
func (c *arrowCache) Write(ctx context.Context, key stream.Key, records []stream.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	st, err := c.stateFor(key, records[0])
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if st.writer == nil {
		f, err := os.OpenFile(st.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			c.mu.Unlock()
			return 0, fmt.Errorf("cache: opening arrow append file: %w", err)
		}
		st.file = f
		st.writer = ipc.NewWriter(f, ipc.WithSchema(st.schema), ipc.WithAllocator(c.mem))
	}
	writer := st.writer
	c.mu.Unlock()

	rec, err := buildArrowRecord(c.mem, st.schema, st.arrowKinds, records)
	if err != nil {
		return 0, err
	}
	defer rec.Release()

	if err := writer.Write(rec); err != nil {
		return 0, fmt.Errorf("cache: writing arrow record batch: %w", err)
	}

	c.mu.Lock()
	st.size += int64(len(records))
	c.mu.Unlock()

	return len(records), nil
}

func buildArrowRecord(mem memory.Allocator, schema *arrow.Schema, kinds []types.Kind, records []stream.Record) (array.Record, error) {
	builders := make([]array.Builder, len(kinds))
	for i, k := range kinds {
		builders[i] = array.NewBuilder(mem, arrowDataType(k))
		defer builders[i].Release()
	}

	for _, rec := range records {
		for i, v := range rec {
			if err := appendArrowValue(builders[i], kinds[i], v.V); err != nil {
				return nil, err
			}
		}
	}

	cols := make([]array.Interface, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	return array.NewRecord(schema, cols, int64(len(records))), nil
}

func appendArrowValue(b array.Builder, k types.Kind, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch k {
	case types.Int64:
		i, _ := v.(int64)
		b.(*array.Int64Builder).Append(i)
	case types.Float64:
		f, _ := v.(float64)
		b.(*array.Float64Builder).Append(f)
	case types.Bool:
		bo, _ := v.(bool)
		b.(*array.BooleanBuilder).Append(bo)
	case types.Date:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cache: expected time.Time for date column, got %T", v)
		}
		days := int32(t.UTC().Unix() / 86400)
		b.(*array.Date32Builder).Append(arrow.Date32(days))
	case types.Time:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cache: expected time.Time for time column, got %T", v)
		}
		micros := int64(t.Hour())*3600e6 + int64(t.Minute())*60e6 + int64(t.Second())*1e6 + int64(t.Nanosecond())/1000
		b.(*array.Time64Builder).Append(arrow.Time64(micros))
	case types.TimestampUTC:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cache: expected time.Time for timestamp column, got %T", v)
		}
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UTC().UnixMicro()))
	default:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		b.(*array.StringBuilder).Append(s)
	}
	return nil
}

type arrowCursor struct {
	reader  *ipc.Reader
	file    *os.File
	kinds   []types.Kind
	current array.Record
	row     int64
}

func (c *arrowCursor) Next(ctx context.Context) (stream.Record, bool, error) {
	if c.reader == nil {
		return nil, false, nil
	}
	for {
		if c.current != nil && c.row < c.current.NumRows() {
			rec := make(stream.Record, len(c.kinds))
			for i, k := range c.kinds {
				v, err := readArrowValue(c.current.Column(i), int(c.row), k)
				if err != nil {
					return nil, false, err
				}
				rec[i] = stream.Value{Kind: k, V: v}
			}
			c.row++
			return rec, true, nil
		}
		if c.current != nil {
			c.current.Release()
			c.current = nil
		}
		if !c.reader.Next() {
			return nil, false, c.reader.Err()
		}
		c.current = c.reader.Record()
		c.current.Retain()
		c.row = 0
	}
}

func readArrowValue(col array.Interface, row int, k types.Kind) (any, error) {
	if col.IsNull(row) {
		return nil, nil
	}
	switch k {
	case types.Int64:
		return col.(*array.Int64).Value(row), nil
	case types.Float64:
		return col.(*array.Float64).Value(row), nil
	case types.Bool:
		return col.(*array.Boolean).Value(row), nil
	case types.Date:
		d := col.(*array.Date32).Value(row)
		return time.Unix(int64(d)*86400, 0).UTC(), nil
	case types.Time:
		t := col.(*array.Time64).Value(row)
		return time.Unix(0, int64(t)*1000).UTC(), nil
	case types.TimestampUTC:
		ts := col.(*array.Timestamp).Value(row)
		return time.UnixMicro(int64(ts)).UTC(), nil
	default:
		return col.(*array.String).Value(row), nil
	}
}

func (c *arrowCursor) Close() error {
	if c.current != nil {
		c.current.Release()
	}
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

// Read finalizes the stream's writer (flushing the end-of-stream
// marker so the reader knows where the framed stream ends) and returns
// a cursor over every record batch written to it, in insertion order.
func (c *arrowCache) Read(ctx context.Context, key stream.Key) (stream.Cursor, error) {
	c.mu.Lock()
	st, ok := c.streams[key]
	var finalizeErr error
	if ok {
		finalizeErr = st.finalize()
	}
	c.mu.Unlock()
	if !ok {
		return &arrowCursor{kinds: nil}, nil
	}
	if finalizeErr != nil {
		return nil, fmt.Errorf("cache: finalizing arrow stream before read: %w", finalizeErr)
	}

	f, err := os.Open(st.path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening arrow file for read: %w", err)
	}
	r, err := ipc.NewReader(f, ipc.WithAllocator(c.mem))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cache: opening arrow ipc reader: %w", err)
	}
	return &arrowCursor{reader: r, file: f, kinds: st.arrowKinds}, nil
}

// Size is authoritative: tracked in-process, not derived from the file.
func (c *arrowCache) Size(key stream.Key) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.streams[key]; ok {
		return st.size, nil
	}
	return 0, nil
}

// Close finalizes any still-open stream writers, then removes the run's
// temporary cache files.
func (c *arrowCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, st := range c.streams {
		if err := st.finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(st.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
