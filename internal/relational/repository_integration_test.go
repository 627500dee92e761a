package relational

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"baasd/internal/schema"
)

type testDB struct {
	container *tcmysql.MySQLContainer
	db        *sql.DB
}

func setupMySQL(t *testing.T) *testDB {
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

	return &testDB{container: container, db: db}
}

func createUsersPhysicalTable(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE users (
		_id CHAR(36) PRIMARY KEY,
		_created_at BIGINT NOT NULL,
		_updated_at BIGINT NOT NULL,
		_extras JSON NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL
	)`)
	require.NoError(t, err)
}

func TestRepositoryInsertAndQueryIntegration(t *testing.T) {
	tc := setupMySQL(t)
	createUsersPhysicalTable(t, tc.db)

	table := schema.TableDef{Fields: map[string]schema.FieldDef{
		"name":  {Type: schema.FieldString},
		"email": {Type: schema.FieldString},
	}}
	repo := New(tc.db, 500, nil)
	ctx := context.Background()

	id, err := repo.Insert(ctx, "users", table, map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rows, err := repo.Query(ctx, "users", table, QueryOptions{Where: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, id, rows[0]["_id"])
	require.Equal(t, "Ada", rows[0]["name"])
}

func TestRepositoryUpdateAndDeleteIntegration(t *testing.T) {
	tc := setupMySQL(t)
	createUsersPhysicalTable(t, tc.db)

	table := schema.TableDef{Fields: map[string]schema.FieldDef{
		"name":  {Type: schema.FieldString},
		"email": {Type: schema.FieldString},
	}}
	repo := New(tc.db, 500, nil)
	ctx := context.Background()

	id, err := repo.Insert(ctx, "users", table, map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, err)

	affected, err := repo.Update(ctx, "users", table, Selector{ID: &id}, map[string]any{"name": "Ada Lovelace", "email": "ada@example.com"})
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	row, err := repo.First(ctx, "users", table, map[string]any{"_id": id}, nil)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", row["name"])

	affected, err = repo.Delete(ctx, "users", table, Selector{ID: &id})
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	row, err = repo.First(ctx, "users", table, map[string]any{"_id": id}, nil)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestRepositoryQueryOrdersAndFiltersByManagedTimestampsIntegration(t *testing.T) {
	tc := setupMySQL(t)
	createUsersPhysicalTable(t, tc.db)

	table := schema.TableDef{Fields: map[string]schema.FieldDef{
		"name":  {Type: schema.FieldString},
		"email": {Type: schema.FieldString},
	}}
	repo := New(tc.db, 500, nil)
	ctx := context.Background()

	firstID, err := repo.Insert(ctx, "users", table, map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, err)
	secondID, err := repo.Insert(ctx, "users", table, map[string]any{"name": "Grace", "email": "grace@example.com"})
	require.NoError(t, err)

	rows, err := repo.Query(ctx, "users", table, QueryOptions{OrderBy: []OrderBy{{Field: "_created_at", Desc: true}}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, secondID, rows[0]["_id"])
	require.Equal(t, firstID, rows[1]["_id"])

	row, err := repo.First(ctx, "users", table, map[string]any{"_updated_at": map[string]any{"$eq": rows[1]["_updated_at"]}}, nil)
	require.NoError(t, err)
	require.Equal(t, firstID, row["_id"])
}
