package source

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeIdentRejectsInjection(t *testing.T) {
	if _, err := SanitizeIdent(`"; DROP TABLE x; --`); err == nil {
		t.Fatalf("expected injection payload to be rejected")
	}
}

func TestBuildSelectRejectsUnsafeIdentifiers(t *testing.T) {
	spec := SelectSpec{
		SchemaName: "public",
		TableName:  `x; DROP TABLE users; --`,
		Columns:    []string{"id"},
	}
	if _, err := BuildSelect(spec); err == nil {
		t.Fatalf("expected BuildSelect to reject an unsafe table name")
	}
}

func TestBuildSelectOnlyContainsSanitisedIdentifiers(t *testing.T) {
	spec := SelectSpec{
		SchemaName: "public",
		TableName:  "customers",
		Columns:    []string{"id", "name"},
	}
	q, err := BuildSelect(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(q, ";") {
		t.Fatalf("generated query must not contain statement separators: %q", q)
	}
}

func TestHalfOpenIncrementalWindow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	spec := SelectSpec{
		SchemaName:  "public",
		TableName:   "events",
		Columns:     []string{"id"},
		CursorField: "updated_at",
		IncStart:    &start,
		IncEnd:      &end,
	}
	q, err := BuildSelect(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q, `"updated_at" >= '2025-01-01T00:00:00Z'`) {
		t.Fatalf("expected inclusive start bound, got %q", q)
	}
	if !strings.Contains(q, `"updated_at" < '2025-01-02T00:00:00Z'`) {
		t.Fatalf("expected exclusive end bound, got %q", q)
	}
}

func TestEscapeLiteralQuotesStringsAndDoublesQuotes(t *testing.T) {
	lit, err := EscapeLiteral(`O'Brien`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lit != `'O''Brien'` {
		t.Fatalf("expected doubled single quote, got %q", lit)
	}
}

func TestEscapeLiteralBooleanAndNull(t *testing.T) {
	if lit, _ := EscapeLiteral(true); lit != "TRUE" {
		t.Fatalf("expected TRUE, got %q", lit)
	}
	if lit, _ := EscapeLiteral(nil); lit != "NULL" {
		t.Fatalf("expected NULL, got %q", lit)
	}
}

func TestBuildSelectEqualityFilters(t *testing.T) {
	spec := SelectSpec{
		SchemaName: "public",
		TableName:  "customers",
		Columns:    []string{"id"},
		Filters:    map[string]any{"tenant_id": "acme"},
	}
	q, err := BuildSelect(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q, `"tenant_id" = 'acme'`) {
		t.Fatalf("expected equality filter clause, got %q", q)
	}
}
