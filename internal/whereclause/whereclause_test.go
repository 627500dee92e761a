package whereclause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowed(fields ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

func TestCompileNilClauseIsEmpty(t *testing.T) {
	compiled, err := Compile(nil, allowed("score"))
	require.NoError(t, err)
	assert.Empty(t, compiled.Clause)
	assert.Empty(t, compiled.Params)
}

func TestCompileBasicOperators(t *testing.T) {
	filter := map[string]any{
		"$and": []any{
			map[string]any{"score": map[string]any{"$gte": float64(10)}},
			map[string]any{"title": map[string]any{"$contains": "sky"}},
		},
	}
	compiled, err := Compile(filter, allowed("score", "title"))
	require.NoError(t, err)
	assert.Contains(t, compiled.Clause, "`score` >= ?")
	assert.Contains(t, compiled.Clause, "`title` LIKE ?")
	assert.Len(t, compiled.Params, 2)
}

func TestCompileEqualityShorthand(t *testing.T) {
	compiled, err := Compile(map[string]any{"name": "ada"}, allowed("name"))
	require.NoError(t, err)
	assert.Equal(t, "`name` = ?", compiled.Clause)
	assert.Equal(t, []any{"ada"}, compiled.Params)
}

func TestCompileNullEquality(t *testing.T) {
	compiled, err := Compile(map[string]any{"name": nil}, allowed("name"))
	require.NoError(t, err)
	assert.Equal(t, "`name` IS NULL", compiled.Clause)
	assert.Empty(t, compiled.Params)
}

func TestCompileInRequiresNonEmptyArray(t *testing.T) {
	_, err := Compile(map[string]any{"name": map[string]any{"$in": []any{}}}, allowed("name"))
	assert.ErrorContains(t, err, "cannot be empty")
}

func TestCompileRejectsUnknownField(t *testing.T) {
	_, err := Compile(map[string]any{"secret": "x"}, allowed("name"))
	assert.ErrorContains(t, err, "unknown filter field")
}

func TestCompileRejectsEmptyTopLevelObject(t *testing.T) {
	_, err := Compile(map[string]any{}, allowed("name"))
	assert.ErrorContains(t, err, "at least one condition")
}

func TestCompileParamCountMatchesPlaceholders(t *testing.T) {
	filter := map[string]any{
		"$or": []any{
			map[string]any{"id": map[string]any{"$in": []any{"a", "b", "c"}}},
			map[string]any{"name": map[string]any{"$ne": "x"}},
		},
	}
	compiled, err := Compile(filter, allowed("id", "name"))
	require.NoError(t, err)
	placeholderCount := 0
	for _, r := range compiled.Clause {
		if r == '?' {
			placeholderCount++
		}
	}
	assert.Equal(t, placeholderCount, len(compiled.Params))
}
