package destination

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/source"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorPostgreSQL, newPostgresDestination)
}

type pgDialect struct{}

func (pgDialect) dialect() types.Dialect { return types.DialectPostgres }

func (pgDialect) createTable(schemaName, tableName string, schema types.Schema) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	cols := make([]string, len(schema))
	for i, f := range schema {
		qCol, err := source.QuoteIdent(f.Name)
		if err != nil {
			return "", err
		}
		cols[i] = fmt.Sprintf("%s %s", qCol, types.DDL(f.Kind, types.DialectPostgres))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (%s)", qSchema, qTable, strings.Join(cols, ", ")), nil
}

func (pgDialect) truncateTable(schemaName, tableName string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TRUNCATE TABLE %s.%s", qSchema, qTable), nil
}

func (pgDialect) createStagingLike(schemaName, stagingTable, sourceTable string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qStaging, err := source.QuoteIdent(stagingTable)
	if err != nil {
		return "", err
	}
	qSource, err := source.QuoteIdent(sourceTable)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (LIKE %s.%s INCLUDING ALL)", qSchema, qStaging, qSchema, qSource), nil
}

func (pgDialect) dropTable(schemaName, tableName string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTable, err := source.QuoteIdent(tableName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", qSchema, qTable), nil
}

func (pgDialect) upsert(schemaName, targetTable, stagingTable string, schema types.Schema, primaryField string) (string, error) {
	qSchema, err := source.QuoteIdent(schemaName)
	if err != nil {
		return "", err
	}
	qTarget, err := source.QuoteIdent(targetTable)
	if err != nil {
		return "", err
	}
	qStaging, err := source.QuoteIdent(stagingTable)
	if err != nil {
		return "", err
	}
	qPrimary, err := source.QuoteIdent(primaryField)
	if err != nil {
		return "", err
	}

	cols := make([]string, len(schema))
	updates := make([]string, 0, len(schema))
	for i, f := range schema {
		qCol, err := source.QuoteIdent(f.Name)
		if err != nil {
			return "", err
		}
		cols[i] = qCol
		if f.Name != primaryField {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", qCol, qCol))
		}
	}

	return fmt.Sprintf(
		"INSERT INTO %s.%s (%s) SELECT %s FROM %s.%s ON CONFLICT (%s) DO UPDATE SET %s",
		qSchema, qTarget, strings.Join(cols, ", "), strings.Join(cols, ", "), qSchema, qStaging,
		qPrimary, strings.Join(updates, ", "),
	), nil
}

func (pgDialect) columnExistsQuery() string {
	return `SELECT column_name, data_type, COALESCE(numeric_scale, 0)
FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
}

func newPostgresDestination(info connection.Info) (Destination, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=require",
		info.Host, pgDestPort(info), info.User, info.Password, info.Database)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.DestinationConnectionFailed, "opening postgres destination connection", err)
	}
	return newSQLWarehouse(db, pgDialect{}), nil
}

func pgDestPort(info connection.Info) int {
	if info.Port != 0 {
		return info.Port
	}
	return 5432
}
