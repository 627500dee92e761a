package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"baasd/internal/apperr"
)

// Collection is one named, independently-dimensioned bucket of embeddings.
type Collection struct {
	ID        string
	Name      string
	Metadata  map[string]any
	CreatedAt string
	UpdatedAt string
}

// ItemInput describes a caller-supplied item for Add or Update. A nil
// Embedding on Update means "keep the stored embedding"; a nil Metadata
// means "keep the stored metadata"; a nil Document pointer means "keep the
// stored document".
type ItemInput struct {
	ID        string
	Embedding []float32
	Document  *string
	Metadata  map[string]any
}

// Item is one row returned by GetItems.
type Item struct {
	ID       string
	Document string
	Metadata map[string]any
}

// QueryResult holds four parallel result arrays per query embedding, in the
// order the caller's query_embeddings were supplied.
type QueryResult struct {
	IDs       [][]string
	Documents [][]string
	Metadatas [][]map[string]any
	Distances [][]float64
}

// Repository implements the vector collection and item CRUD surface plus
// brute-force cosine-KNN query (spec.md §4.7). There is deliberately no ANN
// index: every query scans the whole collection.
type Repository struct {
	db     *sql.DB
	maxDim int
	logger *zap.Logger
}

// New builds a Repository bound to db. maxDim caps every embedding's
// dimension, mirroring VECTOR_MAX_DIM.
func New(db *sql.DB, maxDim int, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, maxDim: maxDim, logger: logger}
}

func (r *Repository) validateEmbedding(values []float32) error {
	if len(values) == 0 {
		return apperr.Validation("embedding must not be empty")
	}
	if len(values) > r.maxDim {
		return apperr.Validation("embedding dimension %d exceeds configured maximum %d", len(values), r.maxDim)
	}
	return nil
}

// CreateCollection inserts a new collection with a generated id. A
// duplicate name surfaces as a validation error rather than an opaque
// driver conflict.
func (r *Repository) CreateCollection(ctx context.Context, name string, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO vector_collections (id, name, metadata, _created_at, _updated_at)
		VALUES (?, ?, ?, NOW(6), NOW(6))`, id, name, metaJSON)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return "", apperr.Validation("vector collection '%s' already exists", name)
		}
		return "", apperr.Database(err, "failed to create vector collection '%s'", name)
	}
	return id, nil
}

// ListCollections returns every collection ordered by creation time.
func (r *Repository) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, metadata, _created_at, _updated_at FROM vector_collections ORDER BY _created_at")
	if err != nil {
		return nil, apperr.Database(err, "failed to list vector collections")
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperr.Database(err, "failed to scan vector collection")
		}
		c.Metadata = unmarshalMetadata(meta)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes a collection by name; its items cascade-delete
// via the vector_items foreign key.
func (r *Repository) DeleteCollection(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM vector_collections WHERE name = ?", name)
	if err != nil {
		return apperr.Database(err, "failed to delete vector collection '%s'", name)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Database(err, "failed to delete vector collection '%s'", name)
	}
	if affected == 0 {
		return apperr.NotFound("vector collection '%s' not found", name)
	}
	return nil
}

func (r *Repository) collectionID(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, "SELECT id FROM vector_collections WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("vector collection '%s' not found", name)
	}
	if err != nil {
		return "", apperr.Database(err, "failed to resolve vector collection '%s'", name)
	}
	return id, nil
}

// AddItems validates every embedding, then inserts the batch in one
// transaction, generating an id for any item that doesn't bring its own.
func (r *Repository) AddItems(ctx context.Context, collectionName string, items []ItemInput) ([]string, error) {
	collectionID, err := r.collectionID(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := r.validateEmbedding(item.Embedding); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Database(err, "failed to begin vector item insert transaction")
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		document := ""
		if item.Document != nil {
			document = *item.Document
		}
		metaJSON, err := marshalMetadata(item.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO vector_items (id, collection_id, embedding_blob, embedding_dim, embedding_norm, document, metadata, _created_at, _updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`,
			id, collectionID, EncodeEmbedding(item.Embedding), len(item.Embedding), Norm(item.Embedding), document, metaJSON)
		if err != nil {
			_ = tx.Rollback()
			return nil, apperr.Database(err, "failed to insert vector item into '%s'", collectionName)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Database(err, "failed to commit vector item insert into '%s'", collectionName)
	}
	return ids, nil
}

// UpdateItems composes each item's next state from caller-supplied fields
// falling back to the stored row, recomputes the embedding's norm and
// dimension, and updates in place. An item naming an id that doesn't exist
// in the collection is skipped silently; the return value is the total
// number of rows actually updated.
func (r *Repository) UpdateItems(ctx context.Context, collectionName string, items []ItemInput) (int64, error) {
	collectionID, err := r.collectionID(ctx, collectionName)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, item := range items {
		if item.ID == "" {
			return affected, apperr.Validation("update requires every item to carry an id")
		}

		var blob []byte
		var document sql.NullString
		var metaRaw sql.NullString
		err := r.db.QueryRowContext(ctx,
			"SELECT embedding_blob, document, metadata FROM vector_items WHERE id = ? AND collection_id = ?",
			item.ID, collectionID).Scan(&blob, &document, &metaRaw)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return affected, apperr.Database(err, "failed to read vector item '%s'", item.ID)
		}

		embedding := item.Embedding
		if embedding == nil {
			embedding, err = DecodeEmbedding(blob)
			if err != nil {
				return affected, err
			}
		}
		if err := r.validateEmbedding(embedding); err != nil {
			return affected, err
		}

		nextDocument := document.String
		if item.Document != nil {
			nextDocument = *item.Document
		}

		nextMetadata := unmarshalMetadata(metaRaw)
		if item.Metadata != nil {
			nextMetadata = item.Metadata
		}
		metaJSON, err := marshalMetadata(nextMetadata)
		if err != nil {
			return affected, err
		}

		result, err := r.db.ExecContext(ctx, `
			UPDATE vector_items SET embedding_blob = ?, embedding_dim = ?, embedding_norm = ?, document = ?, metadata = ?, _updated_at = NOW(6)
			WHERE id = ? AND collection_id = ?`,
			EncodeEmbedding(embedding), len(embedding), Norm(embedding), nextDocument, metaJSON, item.ID, collectionID)
		if err != nil {
			return affected, apperr.Database(err, "failed to update vector item '%s'", item.ID)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return affected, apperr.Database(err, "failed to update vector item '%s'", item.ID)
		}
		affected += rows
	}
	return affected, nil
}

// DeleteItems removes the named ids from a collection in one batch.
func (r *Repository) DeleteItems(ctx context.Context, collectionName string, ids []string) (int64, error) {
	collectionID, err := r.collectionID(ctx, collectionName)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM vector_items WHERE collection_id = ? AND id IN (%s)", placeholders(len(ids)))
	args := append([]any{collectionID}, toAnySlice(ids)...)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperr.Database(err, "failed to delete vector items from '%s'", collectionName)
	}
	return result.RowsAffected()
}

// GetItems returns every item in the collection (ordered by creation time)
// when ids is empty, or only the named ids otherwise.
func (r *Repository) GetItems(ctx context.Context, collectionName string, ids []string) ([]Item, error) {
	collectionID, err := r.collectionID(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if len(ids) == 0 {
		rows, err = r.db.QueryContext(ctx,
			"SELECT id, document, metadata FROM vector_items WHERE collection_id = ? ORDER BY _created_at", collectionID)
	} else {
		query := fmt.Sprintf("SELECT id, document, metadata FROM vector_items WHERE collection_id = ? AND id IN (%s)", placeholders(len(ids)))
		args := append([]any{collectionID}, toAnySlice(ids)...)
		rows, err = r.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, apperr.Database(err, "failed to fetch vector items from '%s'", collectionName)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var document sql.NullString
		var meta sql.NullString
		if err := rows.Scan(&it.ID, &document, &meta); err != nil {
			return nil, apperr.Database(err, "failed to scan vector item")
		}
		it.Document = document.String
		it.Metadata = unmarshalMetadata(meta)
		out = append(out, it)
	}
	return out, rows.Err()
}

type candidateRow struct {
	id       string
	blob     []byte
	dim      int
	norm     float64
	document string
	metadata map[string]any
}

// Query runs a brute-force cosine-KNN search per query embedding: load
// every row in the collection, filter to rows whose dimension matches the
// query, score by cosine similarity using the precomputed item norm, sort
// descending and truncate to max(1, n_results). There is no ANN index; this
// is the entire point of spec.md §4.7's "acceptable for small corpora"
// note.
func (r *Repository) Query(ctx context.Context, collectionName string, queryEmbeddings [][]float32, nResults int) (QueryResult, error) {
	collectionID, err := r.collectionID(ctx, collectionName)
	if err != nil {
		return QueryResult{}, err
	}
	for _, q := range queryEmbeddings {
		if err := r.validateEmbedding(q); err != nil {
			return QueryResult{}, err
		}
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, embedding_blob, embedding_dim, embedding_norm, document, metadata FROM vector_items WHERE collection_id = ?", collectionID)
	if err != nil {
		return QueryResult{}, apperr.Database(err, "failed to load vector items for query")
	}
	defer rows.Close()

	var candidates []candidateRow
	for rows.Next() {
		var c candidateRow
		var document sql.NullString
		var meta sql.NullString
		if err := rows.Scan(&c.id, &c.blob, &c.dim, &c.norm, &document, &meta); err != nil {
			return QueryResult{}, apperr.Database(err, "failed to scan vector item for query")
		}
		c.document = document.String
		c.metadata = unmarshalMetadata(meta)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, apperr.Database(err, "failed to read vector items for query")
	}

	limit := nResults
	if limit < 1 {
		limit = 1
	}

	result := QueryResult{}
	for _, query := range queryEmbeddings {
		type scoredCandidate struct {
			candidateRow
			distance float64
		}
		var scored []scoredCandidate
		for _, c := range candidates {
			if c.dim != len(query) {
				continue
			}
			values, err := DecodeEmbedding(c.blob)
			if err != nil {
				return QueryResult{}, err
			}
			similarity := CosineSimilarity(query, values, c.norm)
			scored = append(scored, scoredCandidate{c, 1 - similarity})
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].distance < scored[j].distance })
		if len(scored) > limit {
			scored = scored[:limit]
		}

		ids := make([]string, len(scored))
		documents := make([]string, len(scored))
		metadatas := make([]map[string]any, len(scored))
		distances := make([]float64, len(scored))
		for i, sc := range scored {
			ids[i] = sc.id
			documents[i] = sc.document
			metadatas[i] = sc.metadata
			distances[i] = sc.distance
		}
		result.IDs = append(result.IDs, ids)
		result.Documents = append(result.Documents, documents)
		result.Metadatas = append(result.Metadatas, metadatas)
		result.Distances = append(result.Distances, distances)
	}
	return result, nil
}

func marshalMetadata(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Internal("failed to marshal vector metadata: %v", err)
	}
	return string(raw), nil
}

func unmarshalMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(raw.String), &m)
	return m
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
