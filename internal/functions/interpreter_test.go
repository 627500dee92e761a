package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baasd/internal/schema"
)

func TestValidateArgsRejectsUnknownArgument(t *testing.T) {
	err := ValidateArgs(map[string]schema.FieldDef{"title": {Type: schema.FieldString}}, map[string]any{"title": "x", "extra": 1})
	assert.ErrorContains(t, err, "unknown argument 'extra'")
}

func TestValidateArgsRequiresNonOptionalArgument(t *testing.T) {
	err := ValidateArgs(map[string]schema.FieldDef{"title": {Type: schema.FieldString}}, map[string]any{})
	assert.ErrorContains(t, err, "missing required argument 'title'")
}

func TestValidateArgsAllowsMissingOptionalArgument(t *testing.T) {
	schemaDef := map[string]schema.FieldDef{
		"note": {Type: schema.FieldOptional, Inner: &schema.FieldDef{Type: schema.FieldString}},
	}
	assert.NoError(t, ValidateArgs(schemaDef, map[string]any{}))
}

func TestValidateArgsTypeChecksEachField(t *testing.T) {
	schemaDef := map[string]schema.FieldDef{
		"count":  {Type: schema.FieldNumber},
		"done":   {Type: schema.FieldBoolean},
		"owner":  {Type: schema.FieldID, Table: "users"},
	}
	assert.ErrorContains(t, ValidateArgs(schemaDef, map[string]any{"count": "nope", "done": true, "owner": "u1"}), "must be a number")
	assert.ErrorContains(t, ValidateArgs(schemaDef, map[string]any{"count": 1.0, "done": "nope", "owner": "u1"}), "must be a boolean")
	assert.ErrorContains(t, ValidateArgs(schemaDef, map[string]any{"count": 1.0, "done": true, "owner": 7}), "must be a string")
	assert.NoError(t, ValidateArgs(schemaDef, map[string]any{"count": 1.0, "done": true, "owner": "u1"}))
}

func TestValidateArgsValidatesNestedObjectShape(t *testing.T) {
	schemaDef := map[string]schema.FieldDef{
		"profile": {Type: schema.FieldObject, Shape: map[string]schema.FieldDef{
			"displayName": {Type: schema.FieldString},
		}},
	}
	err := ValidateArgs(schemaDef, map[string]any{"profile": map[string]any{}})
	assert.ErrorContains(t, err, "argument 'profile.displayName' is required")

	assert.NoError(t, ValidateArgs(schemaDef, map[string]any{"profile": map[string]any{"displayName": "a"}}))
}

func TestResolveExprSubstitutesArgAndArgPath(t *testing.T) {
	args := map[string]any{"title": "hello", "nested": map[string]any{"x": 1.0}}
	vars := map[string]any{}

	value, err := resolveExpr("$arg.title", args, vars)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	value, err = resolveExpr("$arg.nested.x", args, vars)
	require.NoError(t, err)
	assert.Equal(t, 1.0, value)

	value, err = resolveExpr("$arg", args, vars)
	require.NoError(t, err)
	assert.Equal(t, args, value)
}

func TestResolveExprSubstitutesVarAndVarPath(t *testing.T) {
	args := map[string]any{}
	vars := map[string]any{"row": map[string]any{"title": "hi"}, "count": 3.0}

	value, err := resolveExpr("$var.row.title", args, vars)
	require.NoError(t, err)
	assert.Equal(t, "hi", value)

	value, err = resolveExpr("$var.count", args, vars)
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
}

func TestResolveExprRejectsEmptyVarReference(t *testing.T) {
	_, err := resolveExpr("$var.", map[string]any{}, map[string]any{})
	assert.EqualError(t, err, "VALIDATION_ERROR: invalid variable reference '$var.' in function expression")
}

func TestResolveExprRejectsUnknownVariable(t *testing.T) {
	_, err := resolveExpr("$var.missing", map[string]any{}, map[string]any{})
	assert.EqualError(t, err, "VALIDATION_ERROR: function expression references unknown variable 'missing'")
}

func TestResolveExprRejectsNonObjectPathSegment(t *testing.T) {
	_, err := resolveExpr("$var.count.x", map[string]any{}, map[string]any{"count": 3.0})
	assert.ErrorContains(t, err, "is not an object segment")
}

func TestResolveExprRejectsMissingPathSegment(t *testing.T) {
	_, err := resolveExpr("$arg.title", map[string]any{}, map[string]any{})
	assert.ErrorContains(t, err, "missing 'title' reference path segment 'title' in args scope")
}

func TestResolveExprRecursesThroughArraysAndObjects(t *testing.T) {
	args := map[string]any{"id": "abc"}
	expr := map[string]any{"ids": []any{"$arg.id", "literal"}}
	value, err := resolveExpr(expr, args, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ids": []any{"abc", "literal"}}, value)
}

func TestInterpreterRunStepAssertRaisesMessageOnFalsyCondition(t *testing.T) {
	it := New(nil, 100, nil, nil)
	step := Step{Op: OpAssert, Condition: false, Message: "must be true"}
	_, _, _, err := it.runStep(context.Background(), nil, nil, nil, step, map[string]any{}, map[string]any{})
	assert.EqualError(t, err, "VALIDATION_ERROR: must be true")
}

func TestInterpreterRunStepAssertPassesOnTruthyCondition(t *testing.T) {
	it := New(nil, 100, nil, nil)
	step := Step{Op: OpAssert, Condition: true, Message: "unused"}
	_, returned, _, err := it.runStep(context.Background(), nil, nil, nil, step, map[string]any{}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, returned)
}

func TestInterpreterRunStepReturnResolvesVarExpression(t *testing.T) {
	it := New(nil, 100, nil, nil)
	step := Step{Op: OpReturn, Value: "$var.row"}
	_, returned, retVal, err := it.runStep(context.Background(), nil, nil, nil, step, map[string]any{}, map[string]any{"row": "value"})
	require.NoError(t, err)
	assert.True(t, returned)
	assert.Equal(t, "value", retVal)
}

func TestInterpreterRunFallsBackToLastStepWhenNoReturn(t *testing.T) {
	it := New(nil, 100, nil, nil)
	endpoint := Endpoint{Mode: ModeQuery, Steps: []Step{
		{Op: OpSetVar, Name: "a", Value: "$arg.x"},
		{Op: OpSetVar, Name: "b", Value: "$var.a"},
	}}
	result, err := it.run(context.Background(), nil, endpoint, nil, nil, map[string]any{"x": "final"})
	require.NoError(t, err)
	assert.Equal(t, "final", result)
}

func TestInterpreterRunRejectsWriteStepInQueryMode(t *testing.T) {
	it := New(nil, 100, nil, nil)
	endpoint := Endpoint{Mode: ModeQuery, Steps: []Step{
		{Op: OpInsert, Table: "todos", Value: map[string]any{}},
	}}
	_, err := it.run(context.Background(), &schema.Document{Tables: map[string]schema.TableDef{"todos": {}}}, endpoint, nil, nil, map[string]any{})
	assert.EqualError(t, err, "VALIDATION_ERROR: query function cannot execute 'insert' step")
}

func TestLookupTableFailsWhenTableNotDeclared(t *testing.T) {
	_, err := lookupTable(&schema.Document{Tables: map[string]schema.TableDef{}}, "todos")
	assert.ErrorContains(t, err, "not declared in the active schema")
}

func TestLookupTableFailsWhenNoSchemaLoaded(t *testing.T) {
	_, err := lookupTable(nil, "todos")
	assert.ErrorContains(t, err, "no active schema is loaded")
}
