// Package bootstrap creates the internal bookkeeping tables every other
// package depends on (_schema_meta, _schema_state, _schema_migrations,
// vector_collections, vector_items, _functions_deployments). Run is
// idempotent: it uses CREATE TABLE IF NOT EXISTS exclusively and is safe to
// call on every process start, the same way the teacher's migration
// tooling never assumes a clean database.
package bootstrap

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"baasd/internal/apperr"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS _schema_meta (
		table_name VARCHAR(191) PRIMARY KEY,
		signature CHAR(16) NOT NULL,
		managed BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS _schema_state (
		key_name VARCHAR(191) PRIMARY KEY,
		value_json JSON NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS _schema_migrations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		migration_name VARCHAR(191) NOT NULL,
		applied_at DATETIME(6) NOT NULL,
		details JSON NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vector_collections (
		id CHAR(36) PRIMARY KEY,
		name VARCHAR(191) NOT NULL UNIQUE,
		metadata JSON NULL,
		_created_at DATETIME(6) NOT NULL,
		_updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vector_items (
		id CHAR(36) PRIMARY KEY,
		collection_id CHAR(36) NOT NULL,
		embedding_blob LONGBLOB NOT NULL,
		embedding_dim INT NOT NULL,
		embedding_norm DOUBLE NOT NULL,
		document TEXT NULL,
		metadata JSON NULL,
		_created_at DATETIME(6) NOT NULL,
		_updated_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_vector_items_collection FOREIGN KEY (collection_id) REFERENCES vector_collections(id) ON DELETE CASCADE,
		INDEX idx_vector_items_collection (collection_id)
	)`,
	`CREATE TABLE IF NOT EXISTS _functions_deployments (
		id TINYINT PRIMARY KEY,
		manifest_json LONGTEXT NOT NULL,
		deployment_mode VARCHAR(32) NOT NULL,
		deployed_at DATETIME(6) NOT NULL
	)`,
}

// Run ensures every internal bookkeeping table exists. It never drops or
// alters a table that already exists; a pre-existing, hand-modified
// bookkeeping table is left exactly as it is.
func Run(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return apperr.Database(err, "bootstrap: failed to ensure internal tables")
		}
	}
	logger.Info("bootstrap: internal tables ensured")
	return nil
}
