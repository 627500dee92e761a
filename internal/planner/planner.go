// Package planner implements apply_schema (spec.md §4.5): validating a
// schema document, resolving a foreign-key-safe apply order, converging
// physical storage through the schemarepo repository, running any
// table-level migrations, and recording the document as the new active
// schema. It is the one place allowed to mutate the active schema; every
// other package only ever reads a snapshot handed to it by a caller.
package planner

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"baasd/internal/apperr"
	"baasd/internal/relational"
	"baasd/internal/schema"
	"baasd/internal/schemarepo"
)

// Planner drives schema convergence. It holds its own *sql.DB handle (for
// migration transactions) alongside the schemarepo.Repository that owns
// DDL and bookkeeping, the same two-collaborator split the teacher's
// apply.Applier uses between a generator and a connector.
type Planner struct {
	db       *sql.DB
	repo     *schemarepo.Repository
	maxLimit uint32
	logger   *zap.Logger
}

// New builds a Planner bound to db and repo.
func New(db *sql.DB, repo *schemarepo.Repository, maxLimit uint32, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{db: db, repo: repo, maxLimit: maxLimit, logger: logger}
}

// ApplySchema validates doc, converges physical storage to match it table by
// table in foreign-key-safe order, runs any declared migrations, marks
// tables dropped from the document as unmanaged (never deleting their
// data), and finally records doc as the active schema. DDL itself runs
// outside a transaction (MySQL DDL is non-transactional); the active
// schema signature is written last so a crash mid-apply always leaves
// physical storage at least as permissive as what's recorded active.
func (p *Planner) ApplySchema(ctx context.Context, doc *schema.Document) error {
	if err := schema.Validate(doc); err != nil {
		return err
	}

	previous, err := p.repo.GetActiveSchema(ctx)
	if err != nil {
		return err
	}

	fullSignature, err := schema.Signature(doc)
	if err != nil {
		return err
	}
	tableSignatures, err := schema.TableSignatures(doc)
	if err != nil {
		return err
	}

	order, err := schema.ResolveApplyOrder(doc)
	if err != nil {
		return err
	}

	for _, tableName := range order {
		table := doc.Tables[tableName]

		if err := p.repo.EnsureRelationalTable(ctx, tableName, table); err != nil {
			return err
		}
		if err := p.repo.EnsureIndexes(ctx, tableName, table); err != nil {
			return err
		}

		if rule, ok := doc.Migrations.Tables[tableName]; ok && rule.From != nil && *rule.From != tableName {
			if _, err := p.migrateTable(ctx, previous, *rule.From, tableName, table, rule); err != nil {
				return err
			}
		}

		signature, ok := tableSignatures[tableName]
		if !ok {
			return apperr.Internal("missing signature for table '%s' after computing signatures", tableName)
		}
		if err := p.repo.UpsertTableMeta(ctx, tableName, signature, true); err != nil {
			return err
		}
	}

	if previous != nil {
		for tableName := range previous.Tables {
			if _, stillPresent := doc.Tables[tableName]; !stillPresent {
				if err := p.repo.MarkTableUnmanaged(ctx, tableName); err != nil {
					return err
				}
			}
		}
	}

	if err := p.repo.SetActiveSchema(ctx, doc, fullSignature); err != nil {
		return err
	}
	return p.repo.LogSchemaMigration(ctx, "apply_schema", doc)
}

// migrateTable moves every row of sourceTable into targetTable per rule, in
// one transaction. The source table's field definitions come from the
// previously active schema: by the time a migration runs, doc may no
// longer declare the source table at all (the common "rename by
// introducing a new table and retiring the old one" shape from spec.md's
// end-to-end scenario 3).
func (p *Planner) migrateTable(ctx context.Context, previous *schema.Document, sourceTableName, targetTableName string, targetTable schema.TableDef, rule schema.MigrationRule) (int64, error) {
	if previous == nil {
		return 0, apperr.Internal("migration references source table '%s' but no schema has ever been applied", sourceTableName)
	}
	sourceTable, ok := previous.Tables[sourceTableName]
	if !ok {
		if current, ok := targetCurrentTables(targetTableName, sourceTableName, targetTable); ok {
			sourceTable = current
		} else {
			return 0, apperr.Validation("migration source table '%s' was not found in the active schema", sourceTableName)
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Database(err, "failed to begin migration transaction for '%s' -> '%s'", sourceTableName, targetTableName)
	}

	moved, err := relational.MoveAll(ctx, tx, sourceTableName, sourceTable, targetTableName, targetTable, rule.FieldMap, rule.Defaults, p.logger)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Database(err, "failed to commit migration for '%s' -> '%s'", sourceTableName, targetTableName)
	}

	p.logger.Info("migrated rows between tables",
		zap.String("source_table", sourceTableName),
		zap.String("target_table", targetTableName),
		zap.Int64("moved_rows", moved),
	)
	return moved, nil
}

// targetCurrentTables is a defensive fallback used when the source table is
// missing from the previous schema: it returns targetTable only when the
// source and target names are equal. ApplySchema migrates only when they
// differ, so on that path it never supplies a definition.
func targetCurrentTables(targetTableName, sourceTableName string, targetTable schema.TableDef) (schema.TableDef, bool) {
	if sourceTableName == targetTableName {
		return targetTable, true
	}
	return schema.TableDef{}, false
}
