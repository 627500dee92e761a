// Package relational implements per-table CRUD against managed tables: the
// physical layout (`_id`, `_created_at`, `_updated_at`, `_extras` plus
// declared fields), payload validation, foreign-key enforcement, and the
// where-clause/order-by/limit-offset query surface.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"baasd/internal/apperr"
	"baasd/internal/schema"
	"baasd/internal/whereclause"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting every repository
// method run either standalone or inside a caller-managed transaction
// without a separate "_in_transaction" twin for each operation.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Selector identifies rows by exactly one of an id or a where clause.
type Selector struct {
	ID    *string
	Where any
}

// Validate enforces the id/where XOR rule shared by update, delete and move.
func (s Selector) Validate() error {
	hasID := s.ID != nil
	hasWhere := s.Where != nil
	if hasID == hasWhere {
		return apperr.Validation("exactly one of id or where must be supplied")
	}
	return nil
}

func (s Selector) toWhereValue() any {
	if s.ID != nil {
		return map[string]any{"_id": *s.ID}
	}
	return s.Where
}

// OrderBy is one validated ORDER BY entry.
type OrderBy struct {
	Field string
	Desc  bool
}

// QueryOptions configures Query and First.
type QueryOptions struct {
	Where   any
	OrderBy []OrderBy
	Limit   *uint32
	Offset  *uint32
}

// Repository runs relational operations against one connection/transaction
// handle. maxLimit bounds every query's effective row limit.
type Repository struct {
	db       execer
	maxLimit uint32
	logger   *zap.Logger
}

// New builds a Repository bound to a *sql.DB or *sql.Tx.
func New(db execer, maxLimit uint32, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, maxLimit: maxLimit, logger: logger}
}

// WithTx returns a Repository bound to tx instead, reusing this
// Repository's limit and logger. Callers use this to run a sequence of
// writes atomically.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx, maxLimit: r.maxLimit, logger: r.logger}
}

// defaultQueryLimit is the page size used when a query supplies no limit.
// maxLimit still clamps it, same as any requested limit.
const defaultQueryLimit = 100

func effectiveLimit(requested *uint32, maxLimit, defaultLimit uint32) uint32 {
	base := defaultLimit
	if requested != nil {
		base = *requested
	}
	if base > maxLimit {
		return maxLimit
	}
	return base
}

func allowedFieldSet(table schema.TableDef) map[string]struct{} {
	set := make(map[string]struct{}, len(table.Fields)+3)
	set["_id"] = struct{}{}
	set["_created_at"] = struct{}{}
	set["_updated_at"] = struct{}{}
	for name := range table.Fields {
		set[name] = struct{}{}
	}
	return set
}

func sortedFieldNames(table schema.TableDef) []string {
	names := make([]string, 0, len(table.Fields))
	for name := range table.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkForeignKeys issues one point read per non-null Id field, failing if
// the referenced row doesn't exist. This duplicates the declarative FK
// constraint deliberately: the constraint guards data integrity, this check
// produces a precise validation error instead of an opaque driver error.
func (r *Repository) checkForeignKeys(ctx context.Context, table schema.TableDef, columns map[string]any) error {
	for fieldName, fieldDef := range table.Fields {
		base := fieldDef.UnwrapBase()
		if base.Type != schema.FieldID {
			continue
		}
		value := columns[fieldName]
		if value == nil {
			continue
		}
		id, _ := value.(string)
		var count int64
		query := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE _id = ?", quoteIdent(base.Table))
		if err := r.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
			return apperr.Database(err, "foreign key lookup on %s.%s failed", base.Table, fieldName)
		}
		if count == 0 {
			return apperr.Validation("field '%s' references a non-existent row in table '%s'", fieldName, base.Table)
		}
	}
	return nil
}

// Insert validates value against table, checks foreign keys, and inserts a
// new row with a generated UUID id and fresh timestamps.
func (r *Repository) Insert(ctx context.Context, tableName string, table schema.TableDef, value any) (string, error) {
	columns, extras, err := PreparePayload(table, value, true)
	if err != nil {
		return "", err
	}
	if err := r.checkForeignKeys(ctx, table, columns); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := nowMicros()

	names := []string{"_id", "_created_at", "_updated_at", "_extras"}
	placeholders := []string{"?", "?", "?", "?"}
	extrasJSON, err := marshalExtras(extras)
	if err != nil {
		return "", err
	}
	args := []any{id, now, now, extrasJSON}

	for _, name := range sortedFieldNames(table) {
		names = append(names, name)
		placeholders = append(placeholders, "?")
		args = append(args, toDriverValue(table.Fields[name], columns[name]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(tableName), quoteIdentList(names), strings.Join(placeholders, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return "", apperr.Database(err, "insert into '%s' failed", tableName)
	}
	return id, nil
}

// Update applies a full-replace update to exactly one selected set of rows.
func (r *Repository) Update(ctx context.Context, tableName string, table schema.TableDef, selector Selector, value any) (int64, error) {
	if err := selector.Validate(); err != nil {
		return 0, err
	}
	columns, extras, err := PreparePayload(table, value, true)
	if err != nil {
		return 0, err
	}
	if err := r.checkForeignKeys(ctx, table, columns); err != nil {
		return 0, err
	}

	compiled, err := whereclause.Compile(selector.toWhereValue(), allowedFieldSet(table))
	if err != nil {
		return 0, err
	}

	extrasJSON, err := marshalExtras(extras)
	if err != nil {
		return 0, err
	}

	setClauses := []string{"`_updated_at` = ?", "`_extras` = ?"}
	args := []any{nowMicros(), extrasJSON}
	for _, name := range sortedFieldNames(table) {
		setClauses = append(setClauses, quoteIdent(name)+" = ?")
		args = append(args, toDriverValue(table.Fields[name], columns[name]))
	}
	args = append(args, compiled.Params...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdent(tableName), strings.Join(setClauses, ", "), compiled.Clause)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperr.Database(err, "update on '%s' failed", tableName)
	}
	return result.RowsAffected()
}

// Delete removes every row matched by selector.
func (r *Repository) Delete(ctx context.Context, tableName string, table schema.TableDef, selector Selector) (int64, error) {
	if err := selector.Validate(); err != nil {
		return 0, err
	}
	compiled, err := whereclause.Compile(selector.toWhereValue(), allowedFieldSet(table))
	if err != nil {
		return 0, err
	}
	if compiled.Clause == "" {
		return 0, apperr.Validation("delete requires a non-empty selector")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(tableName), compiled.Clause)
	result, err := r.db.ExecContext(ctx, query, compiled.Params...)
	if err != nil {
		return 0, apperr.Database(err, "delete from '%s' failed", tableName)
	}
	return result.RowsAffected()
}

// Query runs a filtered, ordered, limited SELECT and maps each row back to
// public JSON shape.
func (r *Repository) Query(ctx context.Context, tableName string, table schema.TableDef, opts QueryOptions) ([]map[string]any, error) {
	compiled, err := whereclause.Compile(opts.Where, allowedFieldSet(table))
	if err != nil {
		return nil, err
	}

	orderSQL, err := buildOrderBy(opts.OrderBy, table)
	if err != nil {
		return nil, err
	}

	limit := effectiveLimit(opts.Limit, r.maxLimit, defaultQueryLimit)
	offset := uint32(0)
	if opts.Offset != nil {
		offset = *opts.Offset
	}

	fieldNames := sortedFieldNames(table)
	query := fmt.Sprintf("SELECT %s FROM %s", selectColumnList(fieldNames), quoteIdent(tableName))
	args := compiled.Params
	if compiled.Clause != "" {
		query += " WHERE " + compiled.Clause
	}
	query += orderSQL
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database(err, "query on '%s' failed", tableName)
	}
	defer rows.Close()

	results := make([]map[string]any, 0)
	for rows.Next() {
		row, err := scanRow(rows, table, fieldNames)
		if err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(err, "query on '%s' failed", tableName)
	}
	return results, nil
}

// First runs Query with limit 1 and returns the first row, or nil if none
// matched.
func (r *Repository) First(ctx context.Context, tableName string, table schema.TableDef, where any, orderBy []OrderBy) (map[string]any, error) {
	one := uint32(1)
	rows, err := r.Query(ctx, tableName, table, QueryOptions{Where: where, OrderBy: orderBy, Limit: &one})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of rows matching where.
func (r *Repository) Count(ctx context.Context, tableName string, table schema.TableDef, where any) (int64, error) {
	compiled, err := whereclause.Compile(where, allowedFieldSet(table))
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s", quoteIdent(tableName))
	if compiled.Clause != "" {
		query += " WHERE " + compiled.Clause
	}
	var count int64
	if err := r.db.QueryRowContext(ctx, query, compiled.Params...).Scan(&count); err != nil {
		return 0, apperr.Database(err, "count on '%s' failed", tableName)
	}
	return count, nil
}

func buildOrderBy(entries []OrderBy, table schema.TableDef) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	allowed := allowedFieldSet(table)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := allowed[e.Field]; !ok {
			return "", apperr.Validation("unknown order_by field '%s'", e.Field)
		}
		direction := "ASC"
		if e.Desc {
			direction = "DESC"
		}
		parts = append(parts, quoteIdent(e.Field)+" "+direction)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func selectColumnList(fieldNames []string) string {
	columns := []string{"`_id`", "`_created_at`", "`_updated_at`", "`_extras`"}
	for _, name := range fieldNames {
		columns = append(columns, quoteIdent(name))
	}
	return strings.Join(columns, ", ")
}

func scanRow(rows *sql.Rows, table schema.TableDef, fieldNames []string) (map[string]any, error) {
	id := new(string)
	createdAt := new(int64)
	updatedAt := new(int64)
	extras := new(sql.NullString)

	targets := []any{id, createdAt, updatedAt, extras}
	rawValues := make([]any, len(fieldNames))
	for i := range rawValues {
		targets = append(targets, &rawValues[i])
	}

	if err := rows.Scan(targets...); err != nil {
		return nil, apperr.Database(err, "scan row failed")
	}

	row := map[string]any{
		"_id":         *id,
		"_created_at": formatMicros(*createdAt),
		"_updated_at": formatMicros(*updatedAt),
	}
	if extras.Valid && extras.String != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(extras.String), &parsed); err != nil {
			return nil, apperr.Internal("corrupt _extras json: %v", err)
		}
		row["_extras"] = parsed
	} else {
		row["_extras"] = nil
	}

	for i, name := range fieldNames {
		value, err := fromDriverValue(table.Fields[name], rawValues[i])
		if err != nil {
			return nil, err
		}
		row[name] = value
	}
	return row, nil
}

func toDriverValue(field schema.FieldDef, value any) any {
	if value == nil {
		return nil
	}
	base := field.UnwrapBase()
	switch base.Type {
	case schema.FieldBoolean:
		if b, ok := value.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
		return value
	case schema.FieldObject:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return string(raw)
	default:
		return value
	}
}

func fromDriverValue(field schema.FieldDef, raw any) (any, error) {
	base := field.UnwrapBase()
	if raw == nil {
		return nil, nil
	}
	switch base.Type {
	case schema.FieldBoolean:
		switch v := raw.(type) {
		case int64:
			return v != 0, nil
		case []byte:
			return string(v) != "0" && len(v) > 0, nil
		default:
			return false, nil
		}
	case schema.FieldObject:
		bytesVal, ok := asBytes(raw)
		if !ok {
			return nil, apperr.Internal("expected JSON bytes for object column")
		}
		var parsed map[string]any
		if err := json.Unmarshal(bytesVal, &parsed); err != nil {
			return nil, apperr.Internal("corrupt object column json: %v", err)
		}
		return parsed, nil
	case schema.FieldNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case []byte:
			var f float64
			_, err := fmt.Sscanf(string(v), "%g", &f)
			if err != nil {
				return nil, apperr.Internal("corrupt numeric column: %v", err)
			}
			return f, nil
		default:
			return v, nil
		}
	default:
		bytesVal, ok := asBytes(raw)
		if ok {
			return string(bytesVal), nil
		}
		return raw, nil
	}
}

func asBytes(raw any) ([]byte, bool) {
	switch v := raw.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

func marshalExtras(extras map[string]any) (string, error) {
	if len(extras) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(extras)
	if err != nil {
		return "", apperr.Internal("failed to marshal extras: %v", err)
	}
	return string(raw), nil
}

func nowMicros() int64 {
	return time.Now().UTC().UnixMicro()
}

func formatMicros(micros int64) string {
	return time.UnixMicro(micros).UTC().Format(time.RFC3339Nano)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
