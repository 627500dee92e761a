package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringField() FieldDef {
	return FieldDef{Type: FieldString}
}

func TestSignatureIsOrderIndependent(t *testing.T) {
	docA := &Document{Tables: map[string]TableDef{
		"users": {
			Fields: map[string]FieldDef{
				"name":  stringField(),
				"email": stringField(),
			},
			Indexes: []IndexDef{{Name: "by_email", Columns: []string{"email"}}},
		},
	}}
	docB := &Document{Tables: map[string]TableDef{
		"users": {
			Fields: map[string]FieldDef{
				"email": stringField(),
				"name":  stringField(),
			},
			Indexes: []IndexDef{{Name: "by_email", Columns: []string{"email"}}},
		},
	}}

	sigA, err := Signature(docA)
	require.NoError(t, err)
	sigB, err := Signature(docB)
	require.NoError(t, err)
	assert.Equal(t, sigA, sigB)
	assert.Len(t, sigA, 16)
}

func TestSignatureChangesWithContent(t *testing.T) {
	docA := &Document{Tables: map[string]TableDef{"users": {Fields: map[string]FieldDef{"name": stringField()}}}}
	docB := &Document{Tables: map[string]TableDef{"users": {Fields: map[string]FieldDef{"name": stringField(), "age": {Type: FieldNumber}}}}}

	sigA, err := Signature(docA)
	require.NoError(t, err)
	sigB, err := Signature(docB)
	require.NoError(t, err)
	assert.NotEqual(t, sigA, sigB)
}

func TestTableSignaturesKeyedPerTable(t *testing.T) {
	doc := &Document{Tables: map[string]TableDef{
		"users": {Fields: map[string]FieldDef{"name": stringField()}},
		"posts": {Fields: map[string]FieldDef{"title": stringField()}},
	}}
	sigs, err := TableSignatures(doc)
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
	assert.NotEqual(t, sigs["users"], sigs["posts"])
}
