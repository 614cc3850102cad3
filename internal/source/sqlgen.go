// Package source implements the source connector (§4.3): vendor
// adapters that open a warehouse, inspect its schema, and stream rows
// into the cache through a parameterised SELECT.
package source

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SanitizeIdent validates a column or table identifier per §4.3: alnum
// and underscore only, max 64 chars, must start with a letter or
// underscore. It never concatenates unsanitised input into generated
// SQL — callers that fail this check must abort query construction.
func SanitizeIdent(ident string) (string, error) {
	if !identRe.MatchString(ident) {
		return "", fmt.Errorf("source: invalid identifier %q", ident)
	}
	return ident, nil
}

// QuoteIdent sanitises then double-quotes ident for inclusion in
// generated SQL.
func QuoteIdent(ident string) (string, error) {
	clean, err := SanitizeIdent(ident)
	if err != nil {
		return "", err
	}
	return `"` + clean + `"`, nil
}

// EscapeLiteral type-escapes a filter/bound value for inline inclusion in
// a generated WHERE clause, per §4.3: strings are single-quoted with '
// doubled, timestamps render ISO-8601, booleans render TRUE/FALSE, and
// nil renders the unquoted NULL keyword.
func EscapeLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case time.Time:
		return "'" + x.UTC().Format(time.RFC3339Nano) + "'", nil
	case int, int32, int64:
		return fmt.Sprintf("%d", x), nil
	case float32, float64:
		return fmt.Sprintf("%v", x), nil
	default:
		return "", fmt.Errorf("source: cannot escape literal of type %T", v)
	}
}

// SelectSpec describes the SELECT a source connector issues to read one
// stream, per §4.3 step 4.
type SelectSpec struct {
	SchemaName   string
	TableName    string
	Columns      []string
	CursorField  string
	IncStart     *time.Time
	IncEnd       *time.Time
	Filters      map[string]any
}

// BuildSelect renders the main query for spec, including the half-open
// incremental window `cursor_field >= start AND cursor_field < end` and
// equality filters, with every identifier sanitised and every literal
// type-escaped, per §4.3.
func BuildSelect(spec SelectSpec) (string, error) {
	schema, err := QuoteIdent(spec.SchemaName)
	if err != nil {
		return "", err
	}
	table, err := QuoteIdent(spec.TableName)
	if err != nil {
		return "", err
	}

	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		q, err := QuoteIdent(c)
		if err != nil {
			return "", err
		}
		cols[i] = q
	}

	where, err := buildWhere(spec)
	if err != nil {
		return "", err
	}

	q := fmt.Sprintf("SELECT %s FROM %s.%s", strings.Join(cols, ", "), schema, table)
	if where != "" {
		q += " WHERE " + where
	}
	return q, nil
}

// BuildCount renders the `SELECT count(1)` used to seed progress totals,
// using the identical WHERE clause as the main query, per §4.3 step 3.
func BuildCount(spec SelectSpec) (string, error) {
	schema, err := QuoteIdent(spec.SchemaName)
	if err != nil {
		return "", err
	}
	table, err := QuoteIdent(spec.TableName)
	if err != nil {
		return "", err
	}
	where, err := buildWhere(spec)
	if err != nil {
		return "", err
	}
	q := fmt.Sprintf("SELECT count(1) FROM %s.%s", schema, table)
	if where != "" {
		q += " WHERE " + where
	}
	return q, nil
}

func buildWhere(spec SelectSpec) (string, error) {
	var clauses []string

	if spec.CursorField != "" && (spec.IncStart != nil || spec.IncEnd != nil) {
		cursor, err := QuoteIdent(spec.CursorField)
		if err != nil {
			return "", err
		}
		if spec.IncStart != nil {
			lit, err := EscapeLiteral(*spec.IncStart)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, fmt.Sprintf("%s >= %s", cursor, lit))
		}
		if spec.IncEnd != nil {
			lit, err := EscapeLiteral(*spec.IncEnd)
			if err != nil {
				return "", err
			}
			// Half-open interval: end is exclusive, per §4.3 and the
			// §8 testable property "Incremental window is half-open".
			clauses = append(clauses, fmt.Sprintf("%s < %s", cursor, lit))
		}
	}

	// Deterministic order keeps generated SQL (and tests against it)
	// stable across runs.
	keys := make([]string, 0, len(spec.Filters))
	for k := range spec.Filters {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		col, err := QuoteIdent(k)
		if err != nil {
			return "", err
		}
		lit, err := EscapeLiteral(spec.Filters[k])
		if err != nil {
			return "", err
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", col, lit))
	}

	return strings.Join(clauses, " AND "), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
