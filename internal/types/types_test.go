package types

import "testing"

func TestSchemasCompatibleOrderInsensitive(t *testing.T) {
	a := Schema{{Name: "id", Kind: Int64}, {Name: "name", Kind: String}}
	b := Schema{{Name: "name", Kind: String}, {Name: "id", Kind: Int64}}

	if !SchemasCompatible(a, b) {
		t.Fatalf("expected schemas with reordered fields to be compatible")
	}
}

func TestSchemasIncompatibleOnMissingField(t *testing.T) {
	a := Schema{{Name: "id", Kind: Int64}, {Name: "name", Kind: String}}
	b := Schema{{Name: "id", Kind: Int64}}

	if SchemasCompatible(a, b) {
		t.Fatalf("expected schemas with a missing field to be incompatible")
	}
}

func TestSchemasIncompatibleOnTypeMismatch(t *testing.T) {
	a := Schema{{Name: "id", Kind: Int64}}
	b := Schema{{Name: "id", Kind: String}}

	if SchemasCompatible(a, b) {
		t.Fatalf("expected schemas with a retyped field to be incompatible")
	}
}

func TestSchemasIncompatibleOnExtraField(t *testing.T) {
	a := Schema{{Name: "id", Kind: Int64}}
	b := Schema{{Name: "id", Kind: Int64}, {Name: "extra", Kind: String}}

	if SchemasCompatible(a, b) {
		t.Fatalf("expected schemas with an extra field to be incompatible")
	}
}

func TestFromPostgresNumericScale(t *testing.T) {
	k, err := FromPostgres("NUMERIC", 0)
	if err != nil || k != Int64 {
		t.Fatalf("NUMERIC scale 0 should map to int64, got %v err=%v", k, err)
	}
	k, err = FromPostgres("NUMERIC", 2)
	if err != nil || k != Float64 {
		t.Fatalf("NUMERIC scale>0 should map to float64, got %v err=%v", k, err)
	}
}

func TestFromPostgresUUIDAndJSON(t *testing.T) {
	for _, in := range []string{"UUID", "JSON", "JSONB", "TEXT", "VARCHAR(255)"} {
		k, err := FromPostgres(in, 0)
		if err != nil || k != String {
			t.Fatalf("%s should map to string, got %v err=%v", in, k, err)
		}
	}
}

func TestFromBigQueryUnknownType(t *testing.T) {
	if _, err := FromBigQuery("GEOGRAPHY"); err == nil {
		t.Fatalf("expected error for unsupported bigquery type")
	}
}

func TestKindJSONRoundTrip(t *testing.T) {
	for _, k := range []Kind{Int64, Float64, String, Binary, Bool, Date, Time, TimestampUTC} {
		b, err := k.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var out Kind
		if err := out.UnmarshalJSON(b); err != nil {
			t.Fatalf("unmarshal %v: %v", k, err)
		}
		if out != k {
			t.Fatalf("round trip mismatch: %v != %v", out, k)
		}
	}
}

func TestDDLPerDialect(t *testing.T) {
	if DDL(TimestampUTC, DialectPostgres) != "TIMESTAMP WITH TIME ZONE" {
		t.Fatalf("unexpected postgres timestamp DDL")
	}
	if DDL(Int64, DialectBigQuery) != "INT64" {
		t.Fatalf("unexpected bigquery int64 DDL")
	}
	if DDL(String, DialectSnowflake) != "TEXT" {
		t.Fatalf("unexpected snowflake string DDL")
	}
}
