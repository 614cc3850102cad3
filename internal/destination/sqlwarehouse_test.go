package destination

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func newMockWarehouse(t *testing.T) (*sqlWarehouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newSQLWarehouse(db, pgDialect{}), mock
}

func TestSQLWarehouseFullRefreshCreatesAndTruncates(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(`SELECT column_name, data_type`).
		WithArgs("public", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "scale"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."widgets"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE TABLE "public"."widgets"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"."widgets"`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	cur := seedCursor(t, "public", "widgets", 2)
	defer cur.Close()

	n, err := w.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "widgets", testSchema(), cur, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows written, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLWarehouseIncrementalStagesAndMerges(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(`SELECT column_name, data_type`).
		WithArgs("public", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "scale"}).
			AddRow("id", "bigint", 0).
			AddRow("name", "text", 0))
	mock.ExpectExec(`CREATE TABLE .* \(LIKE "public"\."widgets" INCLUDING ALL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO .*_staging_`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DROP TABLE IF EXISTS .*_staging_`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cur := seedCursor(t, "public", "widgets", 2)
	defer cur.Close()

	n, err := w.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.Incremental}, BatchID: "batch0001"},
		"public", "widgets", testSchema(), cur, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows written, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLWarehouseIncompatibleSchemaRejected(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(`SELECT column_name, data_type`).
		WithArgs("public", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "scale"}).
			AddRow("id", "bigint", 0))

	cur := seedCursor(t, "public", "widgets", 1)
	defer cur.Close()

	_, err := w.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "widgets", testSchema(), cur, nil)
	if xerrors.KindOf(err) != xerrors.DestinationStreamInvalidSchema {
		t.Fatalf("expected DestinationStreamInvalidSchema, got %v", err)
	}
}

func TestSQLWarehouseEmptyStreamSkipsWrite(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(`SELECT column_name, data_type`).
		WithArgs("public", "empty").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "scale"}).
			AddRow("id", "bigint", 0).
			AddRow("name", "text", 0))

	cur := seedCursor(t, "public", "empty", 0)
	defer cur.Close()

	n, err := w.Write(context.Background(), WriteConfig{Mode: schedule.Mode{Type: schedule.FullRefresh}},
		"public", "empty", testSchema(), cur, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows written, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLWarehouseRowCount(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(`SELECT count\(1\) FROM "public"\."widgets"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := w.RowCount(context.Background(), "public", "widgets")
	if err != nil {
		t.Fatalf("row count: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}
