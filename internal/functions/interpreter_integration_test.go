package functions

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
	"baasd/internal/planner"
	"baasd/internal/relational"
	"baasd/internal/schema"
	"baasd/internal/schemarepo"
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

// TestCallCompiledCreateAndFetchTodo covers the end-to-end path from source
// text through the compiler to the interpreter: a writeFunction inserts a
// row and returns it via the "return await ctx.db.get(...)" sugar.
func TestCallCompiledCreateAndFetchTodo(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()

	repo := schemarepo.New(db, nil)
	pl := planner.New(db, repo, 500, nil)
	doc := &schema.Document{Tables: map[string]schema.TableDef{
		"todos": {Fields: map[string]schema.FieldDef{
			"title":  {Type: schema.FieldString},
			"isDone": {Type: schema.FieldBoolean},
		}},
	}}
	require.NoError(t, pl.ApplySchema(ctx, doc))

	manifest, err := CompileManifest([]SourceFile{{Name: "todos.ts", Text: `
export const createTodo = writeFunction({
  args: { title: value.string() },
  handler: async (ctx, args) => {
    const id = await ctx.db.insert("todos", { title: args.title, isDone: false });
    return await ctx.db.get("todos", id);
  },
});
`}})
	require.NoError(t, err)

	it := New(db, 500, pl, nil)
	result, err := it.Call(ctx, doc, manifest.Endpoints["todos.createTodo"], map[string]any{"title": "Ship it"})
	require.NoError(t, err)

	row, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ship it", row["title"])
	assert.Equal(t, false, row["isDone"])
	assert.NotEmpty(t, row["_id"])
}

// TestCallRejectsWriteStepFromQueryFunction covers spec.md §8 testable
// property 8: a readFunction cannot mutate the database.
func TestCallRejectsWriteStepFromQueryFunction(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()

	repo := schemarepo.New(db, nil)
	pl := planner.New(db, repo, 500, nil)
	doc := &schema.Document{Tables: map[string]schema.TableDef{
		"todos": {Fields: map[string]schema.FieldDef{"title": {Type: schema.FieldString}}},
	}}
	require.NoError(t, pl.ApplySchema(ctx, doc))

	endpoint := Endpoint{
		Name: "sneakyInsert",
		Mode: ModeQuery,
		Args: map[string]schema.FieldDef{},
		Steps: []Step{
			{Op: OpInsert, Table: "todos", Value: map[string]any{"title": "should not happen"}},
		},
	}

	it := New(db, 500, pl, nil)
	_, err := it.Call(ctx, doc, endpoint, map[string]any{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "query function cannot execute 'insert' step")

	relRepo := relational.New(db, 500, nil)
	count, err := relRepo.Count(ctx, "todos", doc.Tables["todos"], nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

// TestCallMoveStepMigratesRowsInsideTransaction exercises the move step's
// atomicity and default-filling behavior directly through the interpreter,
// matching spec.md §8 end-to-end scenario 3 but driven by a manifest step
// rather than apply_schema's own migration path.
func TestCallMoveStepMigratesRowsInsideTransaction(t *testing.T) {
	db := setupMySQL(t)
	ctx := context.Background()

	repo := schemarepo.New(db, nil)
	pl := planner.New(db, repo, 500, nil)
	doc := &schema.Document{Tables: map[string]schema.TableDef{
		"todo": {Fields: map[string]schema.FieldDef{
			"title":  {Type: schema.FieldString},
			"isDone": {Type: schema.FieldBoolean},
		}},
		"done": {Fields: map[string]schema.FieldDef{
			"title":  {Type: schema.FieldString},
			"isDone": {Type: schema.FieldBoolean},
			"doneAt": {Type: schema.FieldOptional, Inner: &schema.FieldDef{Type: schema.FieldString}},
		}},
	}}
	require.NoError(t, pl.ApplySchema(ctx, doc))

	relRepo := relational.New(db, 500, nil)
	_, err := relRepo.Insert(ctx, "todo", doc.Tables["todo"], map[string]any{"title": "Ship", "isDone": true})
	require.NoError(t, err)

	endpoint := Endpoint{
		Mode: ModeMutation,
		Args: map[string]schema.FieldDef{},
		Steps: []Step{
			{
				Op:       OpMove,
				Table:    "todo",
				ToTable:  "done",
				Where:    map[string]any{"isDone": map[string]any{"$eq": true}},
				Defaults: map[string]any{"doneAt": "today"},
				Into:     "moved",
			},
			{Op: OpReturn, Value: "$var.moved"},
		},
	}

	it := New(db, 500, pl, nil)
	result, err := it.Call(ctx, doc, endpoint, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result)

	doneRows, err := relRepo.Query(ctx, "done", doc.Tables["done"], relational.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, doneRows, 1)
	assert.Equal(t, "today", doneRows[0]["doneAt"])

	todoCount, err := relRepo.Count(ctx, "todo", doc.Tables["todo"], nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, todoCount)
}
