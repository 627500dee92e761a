// Package schemarepo owns the physical side of a managed table: generating
// CREATE TABLE / ALTER TABLE ADD COLUMN statements from a field definition,
// creating declared indexes, and persisting schema bookkeeping
// (_schema_meta, _schema_state, _schema_migrations). DDL generation follows
// the teacher's dialect/mysql generator: small composable helpers that each
// append one SQL fragment, rather than one large template.
package schemarepo

import (
	"fmt"
	"sort"
	"strings"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

const stringIndexPrefixLength = 191

// QuoteIdentifier backtick-quotes a MySQL identifier, doubling embedded
// backticks. Grounded on the teacher's Generator.QuoteIdentifier.
func QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// columnSQLType maps a field's base type to its physical MySQL column type.
func columnSQLType(base schema.FieldDef) string {
	switch base.Type {
	case schema.FieldString:
		return "TEXT"
	case schema.FieldNumber:
		return "DOUBLE"
	case schema.FieldBoolean:
		return "TINYINT(1)"
	case schema.FieldID:
		return "CHAR(36)"
	case schema.FieldObject:
		return "JSON"
	default:
		return "TEXT"
	}
}

// isIndexable reports whether a field's base type can be the target of a
// declared index. Object fields, and Optional fields wrapping an Object,
// are never indexable.
func isIndexable(field schema.FieldDef) bool {
	return field.UnwrapBase().Type != schema.FieldObject
}

// columnDefinition renders one declared field as a column clause, including
// nullability and, for Id fields, a named foreign key constraint appended
// separately by foreignKeyClause.
func columnDefinition(name string, field schema.FieldDef) string {
	base := field.UnwrapBase()
	nullable := field.IsOptional()

	sqlType := columnSQLType(base)
	nullClause := "NOT NULL"
	if nullable {
		nullClause = "NULL"
	}
	return fmt.Sprintf("%s %s %s", QuoteIdentifier(name), sqlType, nullClause)
}

// foreignKeyName returns the deterministic constraint name for an Id field.
func foreignKeyName(tableName, fieldName string) string {
	return fmt.Sprintf("fk_%s_%s", tableName, fieldName)
}

// foreignKeyClause renders the named FK constraint clause for an Id field,
// or "" if the field (after unwrapping Optional) isn't an Id field.
func foreignKeyClause(tableName, fieldName string, field schema.FieldDef) string {
	base := field.UnwrapBase()
	if base.Type != schema.FieldID {
		return ""
	}
	return fmt.Sprintf(
		"CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(_id) ON DELETE RESTRICT",
		QuoteIdentifier(foreignKeyName(tableName, fieldName)),
		QuoteIdentifier(fieldName),
		QuoteIdentifier(base.Table),
	)
}

// CreateTableStatement renders the full CREATE TABLE statement for a new
// managed table, including the fixed `_id`/`_created_at`/`_updated_at`/
// `_extras` columns every managed table carries.
func CreateTableStatement(tableName string, table schema.TableDef) string {
	lines := []string{
		"`_id` CHAR(36) PRIMARY KEY",
		"`_created_at` BIGINT NOT NULL",
		"`_updated_at` BIGINT NOT NULL",
		"`_extras` JSON NULL",
	}

	var fkClauses []string
	for _, name := range sortedKeys(table.Fields) {
		field := table.Fields[name]
		lines = append(lines, columnDefinition(name, field))
		if fk := foreignKeyClause(tableName, name, field); fk != "" {
			fkClauses = append(fkClauses, fk)
		}
	}
	lines = append(lines, fkClauses...)

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", QuoteIdentifier(tableName), strings.Join(lines, ",\n  "))
}

// AddColumnStatement renders a single ALTER TABLE ADD COLUMN statement. It
// never drops or alters an existing column; that is never this function's
// job.
func AddColumnStatement(tableName, fieldName string, field schema.FieldDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdentifier(tableName), columnDefinition(fieldName, field))
}

// AddForeignKeyStatement renders the ALTER TABLE ADD CONSTRAINT statement
// for an Id column added after table creation.
func AddForeignKeyStatement(tableName, fieldName string, field schema.FieldDef) (string, bool) {
	clause := foreignKeyClause(tableName, fieldName, field)
	if clause == "" {
		return "", false
	}
	return fmt.Sprintf("ALTER TABLE %s ADD %s", QuoteIdentifier(tableName), clause), true
}

// CreateIndexStatement renders a CREATE INDEX statement. String-typed
// columns get a 191-codepoint prefix so the index fits within MySQL's key
// length limit on TEXT columns.
func CreateIndexStatement(tableName string, table schema.TableDef, index schema.IndexDef) (string, error) {
	columnClauses := make([]string, 0, len(index.Columns))
	for _, colName := range index.Columns {
		field, ok := table.Fields[colName]
		if !ok {
			return "", apperr.Internal("index '%s' references undeclared column '%s'", index.Name, colName)
		}
		if !isIndexable(field) {
			return "", apperr.Validation("field '%s' cannot be indexed", colName)
		}
		clause := QuoteIdentifier(colName)
		if field.UnwrapBase().Type == schema.FieldString {
			clause = fmt.Sprintf("%s(%d)", clause, stringIndexPrefixLength)
		}
		columnClauses = append(columnClauses, clause)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", QuoteIdentifier(index.Name), QuoteIdentifier(tableName), strings.Join(columnClauses, ", ")), nil
}

func sortedKeys(fields map[string]schema.FieldDef) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
