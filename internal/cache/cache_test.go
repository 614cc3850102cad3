package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

func TestSQLiteCacheTypeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{Backend: BackendSQLite, Dir: dir, Namespace: "ns"})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	key := stream.Key{SchemaName: "public", Name: "widgets"}
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	records := []stream.Record{
		{
			{Kind: types.Int64, V: int64(1)},
			{Kind: types.Float64, V: 3.5},
			{Kind: types.String, V: "hello"},
			{Kind: types.Bool, V: true},
			{Kind: types.Date, V: date},
			{Kind: types.TimestampUTC, V: ts},
		},
		{
			{Kind: types.Int64, V: int64(2)},
			{Kind: types.Float64, V: -1.25},
			{Kind: types.String, V: "world"},
			{Kind: types.Bool, V: false},
			{Kind: types.Date, V: date.AddDate(0, 0, 1)},
			{Kind: types.TimestampUTC, V: ts.Add(time.Hour)},
		},
	}

	ctx := context.Background()
	n, err := c.Write(ctx, key, records)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records written, got %d", n)
	}

	size, err := c.Size(key)
	if err != nil || size != 2 {
		t.Fatalf("expected size 2, got %d err=%v", size, err)
	}

	cur, err := c.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer cur.Close()

	var got []stream.Record
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 records read back, got %d", len(got))
	}
	if got[0][3].V != true || got[1][3].V != false {
		t.Fatalf("bool did not round-trip: %v / %v", got[0][3].V, got[1][3].V)
	}
	gotDate, ok := got[0][4].V.(time.Time)
	if !ok || !gotDate.Equal(date) {
		t.Fatalf("date did not round-trip: %v", got[0][4].V)
	}
	gotTS, ok := got[0][5].V.(time.Time)
	if !ok || !gotTS.Equal(ts) {
		t.Fatalf("timestamp did not round-trip: %v", got[0][5].V)
	}
}

func TestArrowCacheMultiChunkWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{Backend: BackendArrow, Dir: dir, Namespace: "ns"})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	key := stream.Key{SchemaName: "public", Name: "widgets"}
	ctx := context.Background()

	const chunks = 3
	const perChunk = 2
	for i := 0; i < chunks; i++ {
		records := []stream.Record{
			{{Kind: types.Int64, V: int64(i*perChunk + 1)}, {Kind: types.String, V: "a"}},
			{{Kind: types.Int64, V: int64(i*perChunk + 2)}, {Kind: types.String, V: "b"}},
		}
		n, err := c.Write(ctx, key, records)
		if err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
		if n != perChunk {
			t.Fatalf("chunk %d: expected %d records written, got %d", i, perChunk, n)
		}
	}

	size, err := c.Size(key)
	if err != nil || size != chunks*perChunk {
		t.Fatalf("expected size %d, got %d err=%v", chunks*perChunk, size, err)
	}

	cur, err := c.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer cur.Close()

	var got []stream.Record
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec)
	}

	if len(got) != chunks*perChunk {
		t.Fatalf("expected %d records read back across all chunks, got %d", chunks*perChunk, len(got))
	}
	for i, rec := range got {
		if rec[0].V != int64(i+1) {
			t.Fatalf("record %d: expected id %d, got %v", i, i+1, rec[0].V)
		}
	}
}

func TestSQLiteCacheEmptyStreamIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{Backend: BackendSQLite, Dir: dir, Namespace: "ns"})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	key := stream.Key{SchemaName: "public", Name: "empty"}
	size, err := c.Size(key)
	if err != nil || size != 0 {
		t.Fatalf("expected size 0 for untouched stream, got %d err=%v", size, err)
	}

	cur, err := c.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read of empty stream should not fail: %v", err)
	}
	defer cur.Close()
	_, ok, err := cur.Next(context.Background())
	if err != nil || ok {
		t.Fatalf("expected no records from empty stream cursor")
	}
}
