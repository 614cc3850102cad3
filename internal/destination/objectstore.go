package destination

import (
	"bytes"
	"fmt"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

// ParquetCompression names a supported Parquet page compression codec,
// per §4.4 "Parquet compression is configurable (default NONE)".
type ParquetCompression string

const (
	CompressionNone   ParquetCompression = "NONE"
	CompressionSnappy ParquetCompression = "SNAPPY"
	CompressionGzip   ParquetCompression = "GZIP"
)

// objectStoreStagingKey renders the staging layout path of §6.3:
// <bucket_path>/<namespace>/<schema>__<table>/<YYYY-MM-DD>/<batch_id>/<schema>__<table>_<YYYY_MM_DD>_<batch_id>_<index>.parquet
func objectStoreStagingKey(bucketPath, namespace, schemaName, tableName, dt, batchID string, index int) string {
	stem := fmt.Sprintf("%s__%s", schemaName, tableName)
	underscoreDt := underscoreDate(dt)
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s_%s_%s_%d.parquet",
		bucketPath, namespace, stem, dt, batchID, stem, underscoreDt, batchID, index)
}

// objectStoreHiveKey renders the hive layout path of §6.3:
// <bucket_path>/<table>/dt=<YYYY-MM-DD>/<YYYYMMDDHHMMSS>_<batch_id>_<index>.parquet
func objectStoreHiveKey(bucketPath, tableName, dt, batchID string, index int, now time.Time) string {
	return fmt.Sprintf("%s/%s/dt=%s/%s_%s_%d.parquet",
		bucketPath, tableName, dt, now.UTC().Format("20060102150405"), batchID, index)
}

func underscoreDate(dt string) string {
	out := make([]byte, 0, len(dt))
	for i := 0; i < len(dt); i++ {
		if dt[i] == '-' {
			out = append(out, '_')
		} else {
			out = append(out, dt[i])
		}
	}
	return string(out)
}

// parquetNode maps one canonical Kind to the Parquet leaf node used to
// encode it, per the §4.1 type bridge extended to a columnar file
// format rather than a SQL dialect's DDL.
func parquetNode(k types.Kind) parquet.Node {
	switch k {
	case types.Int64:
		return parquet.Optional(parquet.Leaf(parquet.Int64Type))
	case types.Float64:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case types.Bool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	case types.Binary:
		return parquet.Optional(parquet.Leaf(parquet.ByteArrayType))
	case types.Date:
		return parquet.Optional(parquet.Date())
	case types.Time:
		return parquet.Optional(parquet.Leaf(parquet.Int64Type))
	case types.TimestampUTC:
		return parquet.Optional(parquet.Timestamp(parquet.Microsecond))
	default:
		return parquet.Optional(parquet.String())
	}
}

func parquetSchema(schema types.Schema) *parquet.Schema {
	group := make(parquet.Group, len(schema))
	for _, f := range schema {
		group[f.Name] = parquetNode(f.Kind)
	}
	return parquet.NewSchema("record", group)
}

func parquetCodec(c ParquetCompression) parquet.Compression {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// encodeParquet serialises records into a single Parquet file under
// schema, per §4.4's Parquet object-store write path.
func encodeParquet(schema types.Schema, records []stream.Record, compression ParquetCompression) ([]byte, error) {
	pschema := parquetSchema(schema)
	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, pschema, parquet.Compression(parquetCodec(compression)))

	cols := pschema.Columns()
	for _, rec := range records {
		row := make(parquet.Row, 0, len(rec))
		for i, v := range rec {
			colIndex := 0
			if i < len(cols) {
				colIndex = i
			}
			row = append(row, parquet.ValueOf(v.V).Level(0, 1, colIndex))
		}
		if _, err := w.WriteRows([]parquet.Row{row}); err != nil {
			return nil, fmt.Errorf("destination: encoding parquet row: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("destination: closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
