package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

// MapRowToTarget builds a target-table payload from a source row per a
// migration rule: for each target field, look up fieldMap[target] (falling
// back to the target field's own name) in the source row; if present, use
// it; else fall back to defaults[target]; else, if the target field is
// Optional, use null; otherwise the move fails validation.
func MapRowToTarget(targetTable schema.TableDef, sourceRow map[string]any, fieldMap map[string]string, defaults map[string]any) (map[string]any, error) {
	mapped := make(map[string]any, len(targetTable.Fields))
	for targetField, fieldDef := range targetTable.Fields {
		sourceField, hasMapping := fieldMap[targetField]
		if !hasMapping {
			sourceField = targetField
		}
		if value, present := sourceRow[sourceField]; present {
			mapped[targetField] = value
			continue
		}
		if value, hasDefault := defaults[targetField]; hasDefault {
			mapped[targetField] = value
			continue
		}
		if fieldDef.IsOptional() {
			mapped[targetField] = nil
			continue
		}
		return nil, apperr.Validation("migrated row is missing required field '%s'", targetField)
	}
	return mapped, nil
}

// Move selects every row matched by selector in sourceTable (ignoring any
// query limit), maps each one into targetTable via fieldMap/defaults,
// foreign-key-checks and inserts it (preserving `_id`/`_created_at`,
// refreshing `_updated_at`), then deletes it from the source table. The
// whole batch runs inside tx; any single row's failure rolls back the
// entire move, leaving no row inserted into the target and none deleted
// from the source.
func Move(ctx context.Context, tx *sql.Tx, sourceTableName string, sourceTable schema.TableDef, targetTableName string, targetTable schema.TableDef, selector Selector, fieldMap map[string]string, defaults map[string]any, logger *zap.Logger) (int64, error) {
	if err := selector.Validate(); err != nil {
		return 0, err
	}
	return moveRows(ctx, tx, sourceTableName, sourceTable, targetTableName, targetTable, selector.toWhereValue(), fieldMap, defaults, logger)
}

// MoveAll migrates every row of sourceTable into targetTable unconditionally.
// Unlike Move, it has no selector and is never reached through the request
// API; the schema planner calls it while applying a migration rule against
// an entire table (spec.md §4.5 step 5), where "for each source row" means
// literally every row, not a caller-chosen subset.
func MoveAll(ctx context.Context, tx *sql.Tx, sourceTableName string, sourceTable schema.TableDef, targetTableName string, targetTable schema.TableDef, fieldMap map[string]string, defaults map[string]any, logger *zap.Logger) (int64, error) {
	return moveRows(ctx, tx, sourceTableName, sourceTable, targetTableName, targetTable, nil, fieldMap, defaults, logger)
}

func moveRows(ctx context.Context, tx *sql.Tx, sourceTableName string, sourceTable schema.TableDef, targetTableName string, targetTable schema.TableDef, whereValue any, fieldMap map[string]string, defaults map[string]any, logger *zap.Logger) (int64, error) {
	sourceRepo := New(tx, maxUint32, logger)
	sourceRows, err := sourceRepo.Query(ctx, sourceTableName, sourceTable, QueryOptions{Where: whereValue, Limit: ptrUint32(maxUint32)})
	if err != nil {
		return 0, err
	}

	targetRepo := New(tx, maxUint32, logger)
	var moved int64
	for _, sourceRow := range sourceRows {
		id, _ := sourceRow["_id"].(string)
		createdAt, _ := sourceRow["_created_at"].(string)

		mapped, err := MapRowToTarget(targetTable, sourceRow, fieldMap, defaults)
		if err != nil {
			return 0, err
		}

		columns, extras, err := PreparePayload(targetTable, mapped, true)
		if err != nil {
			return 0, err
		}
		if err := targetRepo.checkForeignKeys(ctx, targetTable, columns); err != nil {
			return 0, err
		}

		var existing int64
		existsQuery := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE _id = ?", quoteIdent(targetTableName))
		if err := tx.QueryRowContext(ctx, existsQuery, id).Scan(&existing); err != nil {
			return 0, apperr.Database(err, "move existence check on '%s' failed", targetTableName)
		}
		if existing > 0 {
			return 0, apperr.Validation("target table '%s' already contains a row with id '%s'", targetTableName, id)
		}

		if err := insertPreservingID(ctx, tx, targetTableName, targetTable, id, createdAt, columns, extras); err != nil {
			return 0, err
		}

		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE _id = ?", quoteIdent(sourceTableName))
		if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
			return 0, apperr.Database(err, "move delete from '%s' failed", sourceTableName)
		}

		moved++
	}
	return moved, nil
}

func insertPreservingID(ctx context.Context, tx *sql.Tx, tableName string, table schema.TableDef, id, createdAt string, columns, extras map[string]any) error {
	extrasJSON, err := marshalExtras(extras)
	if err != nil {
		return err
	}

	createdMicros, err := parseMicros(createdAt)
	if err != nil {
		return apperr.Internal("move source row has invalid _created_at: %v", err)
	}

	names := []string{"_id", "_created_at", "_updated_at", "_extras"}
	placeholders := []string{"?", "?", "?", "?"}
	args := []any{id, createdMicros, nowMicros(), extrasJSON}

	for _, name := range sortedFieldNames(table) {
		names = append(names, name)
		placeholders = append(placeholders, "?")
		args = append(args, toDriverValue(table.Fields[name], columns[name]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(tableName), quoteIdentList(names), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperr.Database(err, "move insert into '%s' failed", tableName)
	}
	return nil
}

// maxUint32 is used to bypass the query-level limit when a move needs every
// selected row, not just a page.
const maxUint32 = ^uint32(0)

func ptrUint32(v uint32) *uint32 { return &v }

func parseMicros(formatted string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, formatted)
	if err != nil {
		return 0, err
	}
	return t.UnixMicro(), nil
}
