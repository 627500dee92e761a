// Package schema holds the portable schema document types the relational
// store is driven by: tables, fields, indexes and non-destructive migration
// rules. Field types are a tagged sum type, not a shared-reference tree, so
// a schema document can be cloned and compared by value.
package schema

// FieldType enumerates the supported field kinds. Unlike the multi-dialect
// column type system this module's teacher carries, a baasd field type has
// no dialect variants: every managed table lives in MySQL.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldID       FieldType = "id"
	FieldObject   FieldType = "object"
	FieldOptional FieldType = "optional"
)

// FieldDef describes one declared field of a table. Object fields nest
// arbitrarily deep via Shape; Optional wraps exactly one non-Optional Inner
// definition.
type FieldDef struct {
	Type  FieldType           `json:"type"`
	Table string              `json:"table,omitempty"`
	Shape map[string]FieldDef `json:"shape,omitempty"`
	Inner *FieldDef           `json:"inner,omitempty"`
}

// IsOptional reports whether this field allows a null value directly.
func (f FieldDef) IsOptional() bool {
	return f.Type == FieldOptional
}

// UnwrapBase returns the effective non-Optional field definition.
func (f FieldDef) UnwrapBase() FieldDef {
	if f.Type == FieldOptional && f.Inner != nil {
		return *f.Inner
	}
	return f
}

// IndexDef describes a single-column-set B-tree index declared on a table.
type IndexDef struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableDef describes one managed table's declared fields and indexes. The
// physical layout adds `_id`, `_created_at`, `_updated_at` and `_extras`
// columns on top of whatever is declared here; see schemarepo.
type TableDef struct {
	Fields  map[string]FieldDef `json:"fields"`
	Indexes []IndexDef          `json:"indexes,omitempty"`
}

// MigrationRule describes how rows from an old table should be mapped into
// this (target) table during apply.
type MigrationRule struct {
	From      *string        `json:"from,omitempty"`
	FieldMap  map[string]string `json:"fieldMap,omitempty"`
	Defaults  map[string]any    `json:"defaults,omitempty"`
}

// Migrations holds migration rules keyed by target table name.
type Migrations struct {
	Tables map[string]MigrationRule `json:"tables,omitempty"`
}

// Document is the top-level schema payload applied via the schema planner.
type Document struct {
	Tables     map[string]TableDef `json:"tables"`
	Migrations Migrations          `json:"migrations,omitempty"`
}
