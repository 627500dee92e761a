package relational

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baasd/internal/schema"
)

func usersTable() schema.TableDef {
	return schema.TableDef{Fields: map[string]schema.FieldDef{
		"name":  {Type: schema.FieldString},
		"email": {Type: schema.FieldString},
		"bio":   {Type: schema.FieldOptional, Inner: &schema.FieldDef{Type: schema.FieldString}},
	}}
}

func TestPreparePayloadRejectsNonObject(t *testing.T) {
	_, _, err := PreparePayload(usersTable(), "not an object", true)
	assert.ErrorContains(t, err, "must be a JSON object")
}

func TestPreparePayloadDropsReservedColumns(t *testing.T) {
	columns, extras, err := PreparePayload(usersTable(), map[string]any{
		"name": "Ada", "email": "ada@example.com", "_id": "hacked", "_created_at": "hacked",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "Ada", columns["name"])
	assert.NotContains(t, columns, "_id")
	assert.Empty(t, extras)
}

func TestPreparePayloadFailsOnMissingRequiredFieldWhenRequireAll(t *testing.T) {
	_, _, err := PreparePayload(usersTable(), map[string]any{"name": "Ada"}, true)
	assert.ErrorContains(t, err, "missing required field 'email'")
}

func TestPreparePayloadAllowsMissingOptionalField(t *testing.T) {
	columns, _, err := PreparePayload(usersTable(), map[string]any{"name": "Ada", "email": "a@b.com"}, true)
	require.NoError(t, err)
	assert.Nil(t, columns["bio"])
}

func TestPreparePayloadCollectsUnknownKeysIntoExtras(t *testing.T) {
	_, extras, err := PreparePayload(usersTable(), map[string]any{
		"name": "Ada", "email": "a@b.com", "nickname": "Lovelace",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", extras["nickname"])
}

func TestPreparePayloadRejectsWrongType(t *testing.T) {
	_, _, err := PreparePayload(usersTable(), map[string]any{"name": 5, "email": "a@b.com"}, true)
	assert.ErrorContains(t, err, "must be a string")
}

func TestPreparePayloadRejectsNonFiniteNumber(t *testing.T) {
	table := schema.TableDef{Fields: map[string]schema.FieldDef{"score": {Type: schema.FieldNumber}}}
	_, _, err := PreparePayload(table, map[string]any{"score": math1NaN()}, true)
	assert.ErrorContains(t, err, "finite number")
}

func math1NaN() float64 {
	var zero float64
	return zero / zero
}
