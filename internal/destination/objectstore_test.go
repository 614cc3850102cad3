package destination

import (
	"testing"
	"time"

	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

func TestObjectStoreStagingKeyLayout(t *testing.T) {
	got := objectStoreStagingKey("bkt/path", "acme", "public", "widgets", "2026-07-29", "batch01", 0)
	want := "bkt/path/acme/public__widgets/2026-07-29/batch01/public__widgets_2026_07_29_batch01_0.parquet"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestObjectStoreHiveKeyLayout(t *testing.T) {
	now := time.Date(2026, 7, 29, 13, 45, 0, 0, time.UTC)
	got := objectStoreHiveKey("bkt/path", "widgets", "2026-07-29", "batch01", 2, now)
	want := "bkt/path/widgets/dt=2026-07-29/20260729134500_batch01_2.parquet"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeParquetProducesNonEmptyFile(t *testing.T) {
	schema := types.Schema{
		{Name: "id", Kind: types.Int64},
		{Name: "name", Kind: types.String},
		{Name: "amount", Kind: types.Float64},
		{Name: "active", Kind: types.Bool},
		{Name: "updated_at", Kind: types.TimestampUTC},
	}
	records := []stream.Record{
		{
			{Kind: types.Int64, V: int64(1)},
			{Kind: types.String, V: "alpha"},
			{Kind: types.Float64, V: 1.5},
			{Kind: types.Bool, V: true},
			{Kind: types.TimestampUTC, V: time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)},
		},
	}

	body, err := encodeParquet(schema, records, CompressionNone)
	if err != nil {
		t.Fatalf("encode parquet: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected non-empty parquet file body")
	}
	// Parquet files begin and end with the 4-byte magic "PAR1".
	if string(body[:4]) != "PAR1" || string(body[len(body)-4:]) != "PAR1" {
		t.Fatalf("output does not look like a parquet file")
	}
}

func TestEncodeParquetEmptyRecordsStillProducesValidFile(t *testing.T) {
	schema := types.Schema{{Name: "id", Kind: types.Int64}}
	body, err := encodeParquet(schema, nil, CompressionSnappy)
	if err != nil {
		t.Fatalf("encode parquet: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected non-empty parquet footer even for zero rows")
	}
}
