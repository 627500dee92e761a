package vector

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"baasd/internal/bootstrap"
)

func setupMySQL(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("baasd"),
		tcmysql.WithUsername("baasd"),
		tcmysql.WithPassword("baasd"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, bootstrap.Run(ctx, db, nil))
	return db
}

// TestQueryCosineTopOne covers spec.md §8 end-to-end scenario 4: two
// orthogonal items, query for the one matching exactly, expect a single
// near-zero-distance result.
func TestQueryCosineTopOne(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()
	repo := New(db, 4096, nil)

	_, err := repo.CreateCollection(ctx, "v", nil)
	require.NoError(t, err)

	ids, err := repo.AddItems(ctx, "v", []ItemInput{
		{Embedding: []float32{1, 0, 0}},
		{Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	result, err := repo.Query(ctx, "v", [][]float32{{1, 0, 0}}, 1)
	require.NoError(t, err)
	require.Len(t, result.IDs, 1)
	require.Len(t, result.IDs[0], 1)
	assert.Equal(t, ids[0], result.IDs[0][0])
	assert.InDelta(t, 0.0, result.Distances[0][0], 1e-9)
}

func TestCreateCollectionRejectsDuplicateName(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()
	repo := New(db, 4096, nil)

	_, err := repo.CreateCollection(ctx, "dup", nil)
	require.NoError(t, err)
	_, err = repo.CreateCollection(ctx, "dup", nil)
	assert.Error(t, err)
}

func TestUpdateItemsSkipsMissingIDsAndReportsAffectedCount(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()
	repo := New(db, 4096, nil)

	_, err := repo.CreateCollection(ctx, "c", nil)
	require.NoError(t, err)
	ids, err := repo.AddItems(ctx, "c", []ItemInput{{Embedding: []float32{1, 2, 3}}})
	require.NoError(t, err)

	newDoc := "updated"
	affected, err := repo.UpdateItems(ctx, "c", []ItemInput{
		{ID: ids[0], Document: &newDoc},
		{ID: "missing-id", Embedding: []float32{1}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	items, err := repo.GetItems(ctx, "c", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "updated", items[0].Document)
}

func TestDeleteCollectionCascadesItems(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()
	repo := New(db, 4096, nil)

	_, err := repo.CreateCollection(ctx, "gone", nil)
	require.NoError(t, err)
	_, err = repo.AddItems(ctx, "gone", []ItemInput{{Embedding: []float32{1, 1}}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCollection(ctx, "gone"))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(1) FROM vector_items").Scan(&count))
	assert.Equal(t, 0, count)

	err = repo.DeleteCollection(ctx, "gone")
	assert.Error(t, err)
}
