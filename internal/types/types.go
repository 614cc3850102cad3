// Package types implements the canonical analytical type system that
// mediates every conversion between a source SQL dialect, the on-disk
// cache, and a destination's DDL.
package types

import (
	"fmt"
	"strings"
)

// Kind is a canonical, destination-agnostic column type.
type Kind int

const (
	Unknown Kind = iota
	Int64
	Float64
	String
	Binary
	Bool
	Date
	Time
	TimestampUTC
)

func (k Kind) String() string {
	switch k {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Binary:
		return "binary"
	case Bool:
		return "bool"
	case Date:
		return "date"
	case Time:
		return "time"
	case TimestampUTC:
		return "timestamp_utc"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String, used when Kind travels through
// JSON (control-plane payloads, cache metadata).
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int64":
		return Int64, nil
	case "float64":
		return Float64, nil
	case "string":
		return String, nil
	case "binary":
		return Binary, nil
	case "bool":
		return Bool, nil
	case "date":
		return Date, nil
	case "time":
		return Time, nil
	case "timestamp_utc":
		return TimestampUTC, nil
	default:
		return Unknown, fmt.Errorf("types: unknown canonical kind %q", s)
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Field is one column of a Schema: an ordered (name, canonical type) pair.
type Field struct {
	Name string
	Kind Kind
}

// Schema is an ordered set of Fields. Field order matters for cache
// layout and destination DDL generation, but NOT for compatibility
// comparisons (§4.1).
type Schema []Field

// ByName returns the Field named name and whether it was found.
func (s Schema) ByName(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the ordered list of field names.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// SchemasCompatible implements the order-insensitive compatibility rule
// from §4.1: two schemas are compatible iff they carry the same set of
// field names with the same canonical type, regardless of column order.
func SchemasCompatible(a, b Schema) bool {
	if len(a) != len(b) {
		return false
	}
	bySet := make(map[string]Kind, len(b))
	for _, f := range b {
		bySet[f.Name] = f.Kind
	}
	for _, f := range a {
		k, ok := bySet[f.Name]
		if !ok || k != f.Kind {
			return false
		}
	}
	return true
}

// Dialect names a destination DDL flavor.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectRedshift
	DialectSnowflake
	DialectBigQuery
)

// DDL renders the generic destination column type for kind under dialect,
// per the "Destination DDL (generic)" column of the §4.1 type table.
func DDL(k Kind, d Dialect) string {
	switch k {
	case Int64:
		if d == DialectBigQuery {
			return "INT64"
		}
		return "BIGINT"
	case Float64:
		if d == DialectBigQuery {
			return "FLOAT64"
		}
		return "FLOAT"
	case String:
		if d == DialectBigQuery {
			return "STRING"
		}
		return "TEXT"
	case Binary:
		// Binary is stored hex-encoded as text in every destination we
		// support; none of postgres/redshift/snowflake/bigquery need a
		// native bytes column for this engine's purposes.
		if d == DialectBigQuery {
			return "STRING"
		}
		return "TEXT"
	case Bool:
		if d == DialectBigQuery {
			return "BOOL"
		}
		return "BOOLEAN"
	case Date:
		return "DATE"
	case Time:
		if d == DialectBigQuery {
			return "TIME"
		}
		return "TIME"
	case TimestampUTC:
		switch d {
		case DialectBigQuery:
			return "TIMESTAMP"
		case DialectSnowflake:
			return "TIMESTAMP_TZ"
		default:
			return "TIMESTAMP WITH TIME ZONE"
		}
	default:
		return "TEXT"
	}
}

// FromPostgres maps a PostgreSQL (or Redshift, which shares the catalog)
// column type name and, for NUMERIC, its declared scale, to a canonical
// Kind, per §4.1 rule (c): NUMERIC with scale 0 is int64, scale > 0 is
// float64.
func FromPostgres(sqlType string, numericScale int) (Kind, error) {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	// Strip any parenthesised precision/scale, e.g. "NUMERIC(10,2)".
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = t[:idx]
	}
	switch t {
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT":
		return Int64, nil
	case "NUMERIC", "DECIMAL":
		if numericScale > 0 {
			return Float64, nil
		}
		return Int64, nil
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return Float64, nil
	case "VARCHAR", "CHAR", "CHARACTER", "CHARACTER VARYING", "TEXT", "JSON", "JSONB", "UUID":
		return String, nil
	case "BYTEA", "BINARY", "VARBINARY":
		return Binary, nil
	case "BOOLEAN", "BOOL":
		return Bool, nil
	case "DATE":
		return Date, nil
	case "TIME", "TIME WITHOUT TIME ZONE", "TIME WITH TIME ZONE":
		return Time, nil
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE":
		return TimestampUTC, nil
	default:
		return Unknown, fmt.Errorf("types: unsupported postgres type %q", sqlType)
	}
}

// FromRedshift delegates to FromPostgres: Redshift's catalog is a fork of
// PostgreSQL's and exposes the same type names for every type this engine
// cares about.
func FromRedshift(sqlType string, numericScale int) (Kind, error) {
	return FromPostgres(sqlType, numericScale)
}

// FromSnowflake maps a Snowflake column type name to a canonical Kind.
func FromSnowflake(sqlType string, numericScale int) (Kind, error) {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = t[:idx]
	}
	switch t {
	case "NUMBER", "DECIMAL", "NUMERIC":
		if numericScale > 0 {
			return Float64, nil
		}
		return Int64, nil
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "BYTEINT":
		return Int64, nil
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return Float64, nil
	case "VARCHAR", "CHAR", "CHARACTER", "STRING", "TEXT", "VARIANT", "OBJECT", "ARRAY":
		return String, nil
	case "BINARY", "VARBINARY":
		return Binary, nil
	case "BOOLEAN":
		return Bool, nil
	case "DATE":
		return Date, nil
	case "TIME":
		return Time, nil
	case "TIMESTAMP_LTZ", "TIMESTAMP_NTZ", "TIMESTAMP_TZ", "TIMESTAMP", "DATETIME":
		return TimestampUTC, nil
	default:
		return Unknown, fmt.Errorf("types: unsupported snowflake type %q", sqlType)
	}
}

// FromBigQuery maps a BigQuery standard SQL type name to a canonical Kind.
func FromBigQuery(sqlType string) (Kind, error) {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	switch t {
	case "INT64", "INTEGER":
		return Int64, nil
	case "FLOAT64", "FLOAT", "NUMERIC", "BIGNUMERIC":
		// NUMERIC/BIGNUMERIC arrive from BigQuery already decimal-valued;
		// this engine treats them as float64 the same as any other
		// scale>0 decimal, per §4.1 rule (c).
		return Float64, nil
	case "STRING", "JSON":
		return String, nil
	case "BYTES":
		return Binary, nil
	case "BOOL", "BOOLEAN":
		return Bool, nil
	case "DATE":
		return Date, nil
	case "TIME":
		return Time, nil
	case "TIMESTAMP", "DATETIME":
		return TimestampUTC, nil
	default:
		return Unknown, fmt.Errorf("types: unsupported bigquery type %q", sqlType)
	}
}
