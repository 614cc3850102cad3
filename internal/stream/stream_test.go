package stream

import (
	"testing"
	"time"

	"github.com/sp00nznet/pontoond/internal/types"
)

func baseSchema() types.Schema {
	return types.Schema{
		{Name: "id", Kind: types.Int64},
		{Name: "name", Kind: types.String},
		{Name: "tenant_id", Kind: types.String},
	}
}

func TestStreamValidateRejectsMissingPrimaryField(t *testing.T) {
	s := New("customers", "public", baseSchema())
	s.PrimaryField = "does_not_exist"

	if err := s.Validate(); err == nil {
		t.Fatalf("expected StreamMissingField-style error for unknown primary field")
	}
}

func TestStreamValidateAcceptsKnownFields(t *testing.T) {
	s := New("customers", "public", baseSchema())
	s.PrimaryField = "id"
	s.CursorField = "name"
	s.Filters = map[string]any{"tenant_id": "acme"}

	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestDropFieldThenValidateFails(t *testing.T) {
	s := New("customers", "public", baseSchema())
	s.PrimaryField = "tenant_id"
	s.DropField("tenant_id")

	if err := s.Validate(); err == nil {
		t.Fatalf("expected validation to fail after dropping the primary field")
	}
}

func TestWithFieldBookkeepingOrderAndMaterialize(t *testing.T) {
	s := New("customers", "public", types.Schema{{Name: "id", Kind: types.Int64}})
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.WithBatchID("batch-1").WithLastSyncedAt(ts).WithChecksum()

	schema := s.Schema()
	if len(schema) != 4 {
		t.Fatalf("expected base field + 3 bookkeeping fields, got %d", len(schema))
	}
	if schema[1].Name != "batch_id" || schema[2].Name != "last_synced_at" || schema[3].Name != "checksum" {
		t.Fatalf("bookkeeping fields out of order: %+v", schema)
	}

	rec := s.Materialize(Record{{Kind: types.Int64, V: int64(1)}})
	if len(rec) != 4 {
		t.Fatalf("expected materialized record of length 4, got %d", len(rec))
	}
	if rec[1].V != "batch-1" {
		t.Fatalf("expected batch_id value batch-1, got %v", rec[1].V)
	}
	if rec[3].V == "" {
		t.Fatalf("expected non-empty checksum")
	}
}
