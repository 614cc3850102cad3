// Package stream implements the in-flight data model described in
// spec §3: Streams carry a schema and bookkeeping-column mutators,
// Records are schema-aligned value tuples, and Datasets tie a set of
// Streams to a backing cache for one run.
package stream

import (
	"fmt"
	"time"

	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// Value is one canonically-typed cell of a Record.
type Value struct {
	Kind types.Kind
	V    any
}

// Record is an ordered list of Values aligned 1:1 with a Stream's current
// schema.
type Record []Value

// fieldProducer is a bookkeeping column's value source: either a fixed
// value or a function computed at row-materialisation time, per the
// "Bookkeeping columns added late" design note.
type fieldProducer struct {
	name string
	kind types.Kind
	val  any
	fn   func(Record) any
}

// Stream is a typed sequence of records from one logical table, plus the
// bookkeeping columns layered on by with_* mutators.
type Stream struct {
	Name        string
	SchemaName  string
	schema      types.Schema
	PrimaryField string
	CursorField  string
	Filters      map[string]any

	extra []fieldProducer
}

// New constructs a Stream over the given base schema. The schema is
// copied so later mutation of the caller's slice cannot alias it.
func New(name, schemaName string, schema types.Schema) *Stream {
	cp := make(types.Schema, len(schema))
	copy(cp, schema)
	return &Stream{Name: name, SchemaName: schemaName, schema: cp, Filters: map[string]any{}}
}

// Schema returns the Stream's current effective schema: the base schema
// plus any bookkeeping columns added by with_field/with_checksum/etc, in
// the order they were added.
func (s *Stream) Schema() types.Schema {
	out := make(types.Schema, 0, len(s.schema)+len(s.extra))
	out = append(out, s.schema...)
	for _, e := range s.extra {
		out = append(out, types.Field{Name: e.name, Kind: e.kind})
	}
	return out
}

// WithField appends a bookkeeping column with either a fixed value or a
// per-row producer function. Supplying both val and fn is a caller error;
// fn takes precedence when non-nil.
func (s *Stream) WithField(name string, kind types.Kind, val any, fn func(Record) any) *Stream {
	s.extra = append(s.extra, fieldProducer{name: name, kind: kind, val: val, fn: fn})
	return s
}

// WithChecksum appends a "checksum" string column computed from the
// record's current values at materialisation time.
func (s *Stream) WithChecksum() *Stream {
	return s.WithField("checksum", types.String, nil, func(r Record) any {
		return Checksum(r)
	})
}

// WithBatchID appends a fixed "batch_id" string column.
func (s *Stream) WithBatchID(id string) *Stream {
	return s.WithField("batch_id", types.String, id, nil)
}

// WithLastSyncedAt appends a fixed "last_synced_at" timestamp column.
func (s *Stream) WithLastSyncedAt(ts time.Time) *Stream {
	return s.WithField("last_synced_at", types.TimestampUTC, ts.UTC(), nil)
}

// WithVersion appends a fixed "version" int64 column.
func (s *Stream) WithVersion(v int64) *Stream {
	return s.WithField("version", types.Int64, v, nil)
}

// DropField removes name from the base schema (not from bookkeeping
// columns, which are never dropped once added).
func (s *Stream) DropField(name string) *Stream {
	out := s.schema[:0:0]
	for _, f := range s.schema {
		if f.Name != name {
			out = append(out, f)
		}
	}
	s.schema = out
	return s
}

// Validate enforces the Stream invariant: after mutation, PrimaryField,
// CursorField, and every Filters key must still resolve to a schema
// field, else the stream is rejected with StreamMissingField.
func (s *Stream) Validate() error {
	schema := s.Schema()
	check := func(name string) error {
		if name == "" {
			return nil
		}
		if _, ok := schema.ByName(name); !ok {
			return xerrors.New(xerrors.StreamMissingField,
				fmt.Sprintf("stream %s: field %q not present in schema", s.Name, name))
		}
		return nil
	}
	if err := check(s.PrimaryField); err != nil {
		return err
	}
	if err := check(s.CursorField); err != nil {
		return err
	}
	for k := range s.Filters {
		if err := check(k); err != nil {
			return err
		}
	}
	return nil
}

// Materialize expands a raw base-schema record (in s.schema order) into
// the full current-schema record, appending bookkeeping columns.
func (s *Stream) Materialize(base Record) Record {
	out := make(Record, 0, len(base)+len(s.extra))
	out = append(out, base...)
	for _, e := range s.extra {
		if e.fn != nil {
			out = append(out, Value{Kind: e.kind, V: e.fn(out)})
		} else {
			out = append(out, Value{Kind: e.kind, V: e.val})
		}
	}
	return out
}

// Key identifies a Stream by its (schema_name, name) pair, the Cache's
// addressing scheme.
type Key struct {
	SchemaName string
	Name       string
}

func (s *Stream) Key() Key { return Key{SchemaName: s.SchemaName, Name: s.Name} }
