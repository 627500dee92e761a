package schemarepo

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

// Repository persists schema bookkeeping (`_schema_meta`, `_schema_state`,
// `_schema_migrations`) and drives the physical DDL for managed tables. It
// is built around a shared *sql.DB; DDL statements run outside any
// transaction since MySQL DDL is non-transactional anyway (see
// DESIGN.md).
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// New builds a Repository bound to db.
func New(db *sql.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// GetActiveSchema reads the schema document currently recorded as active,
// or nil if none has ever been applied.
func (r *Repository) GetActiveSchema(ctx context.Context) (*schema.Document, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT value_json FROM _schema_state WHERE key_name = ?", "active_schema").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database(err, "failed to read active schema")
	}
	var doc schema.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, apperr.Internal("active schema state is corrupt: %v", err)
	}
	return &doc, nil
}

// SetActiveSchema upserts both the active_schema document and its signature
// into _schema_state. Writing the signature in the same call keeps the two
// values consistent; the signature is always written last within the
// statement order so a crash leaves storage at least as permissive as the
// signature claims, never less.
func (r *Repository) SetActiveSchema(ctx context.Context, doc *schema.Document, fullSignature string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return apperr.Internal("failed to marshal schema document: %v", err)
	}
	if err := r.upsertState(ctx, "active_schema", string(raw)); err != nil {
		return err
	}
	quotedSignature, err := json.Marshal(fullSignature)
	if err != nil {
		return apperr.Internal("failed to marshal schema signature: %v", err)
	}
	return r.upsertState(ctx, "active_schema_signature", string(quotedSignature))
}

func (r *Repository) upsertState(ctx context.Context, key, valueJSON string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO _schema_state (key_name, value_json, updated_at) VALUES (?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE value_json = VALUES(value_json), updated_at = NOW(6)`, key, valueJSON)
	if err != nil {
		return apperr.Database(err, "failed to persist schema state key '%s'", key)
	}
	return nil
}

// UpsertTableMeta records (or refreshes) a managed table's signature.
func (r *Repository) UpsertTableMeta(ctx context.Context, tableName, signature string, managed bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO _schema_meta (table_name, signature, managed, updated_at) VALUES (?, ?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE signature = VALUES(signature), managed = VALUES(managed), updated_at = NOW(6)`,
		tableName, signature, managed)
	if err != nil {
		return apperr.Database(err, "failed to upsert schema meta for table '%s'", tableName)
	}
	return nil
}

// MarkTableUnmanaged flips a table's managed flag without touching any
// physical data: tables removed from a schema document are never dropped.
func (r *Repository) MarkTableUnmanaged(ctx context.Context, tableName string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE _schema_meta SET managed = FALSE, updated_at = NOW(6) WHERE table_name = ?", tableName)
	if err != nil {
		return apperr.Database(err, "failed to mark table '%s' unmanaged", tableName)
	}
	return nil
}

// IsManaged reports whether a table is currently writable through the
// relational repository.
func (r *Repository) IsManaged(ctx context.Context, tableName string) (bool, error) {
	var managed bool
	err := r.db.QueryRowContext(ctx, "SELECT managed FROM _schema_meta WHERE table_name = ?", tableName).Scan(&managed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Database(err, "failed to read managed flag for table '%s'", tableName)
	}
	return managed, nil
}

// LogSchemaMigration appends an immutable record of an apply_schema call.
func (r *Repository) LogSchemaMigration(ctx context.Context, migrationName string, doc *schema.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return apperr.Internal("failed to marshal schema document: %v", err)
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO _schema_migrations (migration_name, applied_at, details) VALUES (?, NOW(6), ?)", migrationName, string(raw))
	if err != nil {
		return apperr.Database(err, "failed to log schema migration '%s'", migrationName)
	}
	return nil
}

// EnsureRelationalTable creates the table if it doesn't exist yet, or adds
// any fields missing from an already-existing table. It never drops or
// alters an existing column.
func (r *Repository) EnsureRelationalTable(ctx context.Context, tableName string, table schema.TableDef) error {
	exists, err := r.tableExists(ctx, tableName)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := r.db.ExecContext(ctx, CreateTableStatement(tableName, table)); err != nil {
			return apperr.Database(err, "failed to create table '%s'", tableName)
		}
		return nil
	}

	existingColumns, err := r.existingColumns(ctx, tableName)
	if err != nil {
		return err
	}
	for _, fieldName := range sortedKeys(table.Fields) {
		if _, ok := existingColumns[fieldName]; ok {
			continue
		}
		field := table.Fields[fieldName]
		if _, err := r.db.ExecContext(ctx, AddColumnStatement(tableName, fieldName, field)); err != nil {
			return apperr.Database(err, "failed to add column '%s' to table '%s'", fieldName, tableName)
		}
		if stmt, ok := AddForeignKeyStatement(tableName, fieldName, field); ok {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return apperr.Database(err, "failed to add foreign key for column '%s' on table '%s'", fieldName, tableName)
			}
		}
	}
	return nil
}

// EnsureIndexes creates any declared index missing from information_schema.
func (r *Repository) EnsureIndexes(ctx context.Context, tableName string, table schema.TableDef) error {
	existingIndexes, err := r.existingIndexNames(ctx, tableName)
	if err != nil {
		return err
	}
	for _, index := range table.Indexes {
		if _, ok := existingIndexes[index.Name]; ok {
			continue
		}
		stmt, err := CreateIndexStatement(tableName, table, index)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Database(err, "failed to create index '%s' on table '%s'", index.Name, tableName)
		}
	}
	return nil
}

func (r *Repository) tableExists(ctx context.Context, tableName string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		tableName).Scan(&count)
	if err != nil {
		return false, apperr.Database(err, "failed to check existence of table '%s'", tableName)
	}
	return count > 0, nil
}

func (r *Repository) existingColumns(ctx context.Context, tableName string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", tableName)
	if err != nil {
		return nil, apperr.Database(err, "failed to list columns for table '%s'", tableName)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Database(err, "failed to scan column name for table '%s'", tableName)
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}

func (r *Repository) existingIndexNames(ctx context.Context, tableName string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT index_name FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ?", tableName)
	if err != nil {
		return nil, apperr.Database(err, "failed to list indexes for table '%s'", tableName)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Database(err, "failed to scan index name for table '%s'", tableName)
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}
