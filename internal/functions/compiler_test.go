package functions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baasd/internal/schema"
)

func TestCompileManifestReadFunction(t *testing.T) {
	source := `
export const listTodos = readFunction({
  args: {
    ownerId: value.id("users"),
    limit: value.number(),
  },
  handler: async (ctx, args) => {
    const rows = await ctx.db.read("todos").where({ ownerId: { $eq: args.ownerId } }).limit(args.limit).collect();
    return rows;
  },
});
`
	manifest, err := CompileManifest([]SourceFile{{Name: "todos.ts", Text: source}})
	require.NoError(t, err)

	ep, ok := manifest.Endpoints["todos.listTodos"]
	require.True(t, ok)
	assert.Equal(t, ModeQuery, ep.Mode)
	assert.Equal(t, schema.FieldDef{Type: schema.FieldID, Table: "users"}, ep.Args["ownerId"])
	require.Len(t, ep.Steps, 2)
	assert.Equal(t, OpGet, ep.Steps[0].Op)
	assert.Equal(t, "todos", ep.Steps[0].Table)
	assert.Equal(t, "rows", ep.Steps[0].Into)
	assert.Equal(t, OpReturn, ep.Steps[1].Op)
	assert.Equal(t, "$var.rows", ep.Steps[1].Value)
}

func TestCompileManifestWriteFunctionInsertAndReturnAwaitGet(t *testing.T) {
	source := `
export const createTodo = writeFunction({
  args: {
    title: value.string(),
  },
  handler: async (ctx, args) => {
    const id = await ctx.db.insert("todos", { title: args.title, isDone: false });
    return await ctx.db.get("todos", id);
  },
});
`
	manifest, err := CompileManifest([]SourceFile{{Name: "todos.ts", Text: source}})
	require.NoError(t, err)

	ep, ok := manifest.Endpoints["todos.createTodo"]
	require.True(t, ok)
	assert.Equal(t, ModeMutation, ep.Mode)
	require.Len(t, ep.Steps, 3)

	assert.Equal(t, OpInsert, ep.Steps[0].Op)
	assert.Equal(t, "todos", ep.Steps[0].Table)
	assert.Equal(t, "id", ep.Steps[0].Into)
	assert.Equal(t, map[string]any{"title": "$arg.title", "isDone": false}, ep.Steps[0].Value)

	assert.Equal(t, OpFirst, ep.Steps[1].Op)
	assert.Equal(t, "todos", ep.Steps[1].Table)
	assert.Equal(t, "__return_value", ep.Steps[1].Into)
	assert.Equal(t, map[string]any{"_id": map[string]any{"$eq": "$var.id"}}, ep.Steps[1].Where)

	assert.Equal(t, OpReturn, ep.Steps[2].Op)
	assert.Equal(t, "$var.__return_value", ep.Steps[2].Value)
}

func TestCompileManifestRejectsDuplicateEndpointKeys(t *testing.T) {
	source := `
export const ping = readFunction({
  args: {},
  handler: async (ctx, args) => { return true; },
});
export const ping = readFunction({
  args: {},
  handler: async (ctx, args) => { return false; },
});
`
	_, err := CompileManifest([]SourceFile{{Name: "dup.ts", Text: source}})
	assert.ErrorContains(t, err, "duplicate endpoint key")
}

func TestCompileManifestRejectsUnknownArgInitializer(t *testing.T) {
	source := `
export const broken = readFunction({
  args: { x: value.nonsense() },
  handler: async (ctx, args) => { return true; },
});
`
	_, err := CompileManifest([]SourceFile{{Name: "broken.ts", Text: source}})
	assert.ErrorContains(t, err, "unrecognized initializer")
}

func TestCompileManifestModulePathFromFileName(t *testing.T) {
	assert.Equal(t, "todos", modulePath("todos.ts"))
	assert.Equal(t, "lib.todos", modulePath("lib/todos.ts"))
	assert.Equal(t, "todos", modulePath("todos"))
}
