// Package functions implements the manifest compiler and interpreter that
// make up the runtime function engine (spec.md §4.8/§4.9): a hand-rolled
// balanced-brace scanner compiles a restricted TypeScript-like source
// dialect into an ordered step list, and a transactional interpreter
// executes that step list against the relational store.
package functions

import "baasd/internal/schema"

// Mode distinguishes a read-only query function from a mutating one.
// spec.md calls these readFunction/writeFunction at the source level.
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeMutation Mode = "mutation"
)

// Op enumerates every step kind the manifest format accepts. The compiler
// in this package only ever emits a subset (Get, First, Insert, SetVar,
// Return); the wider vocabulary exists so a manifest authored or edited
// directly, bypassing the source compiler, can use the interpreter's full
// capability without a later wire-format change (SPEC_FULL.md §5 item 1).
type Op string

const (
	OpGet         Op = "get"
	OpFirst       Op = "first"
	OpCount       Op = "count"
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpMove        Op = "move"
	OpAssert      Op = "assert"
	OpSetVar      Op = "setVar"
	OpReturn      Op = "return"
	OpApplySchema Op = "applySchema"
)

// validOps is the closed set a manifest step's Op must belong to.
var validOps = map[Op]bool{
	OpGet: true, OpFirst: true, OpCount: true, OpInsert: true, OpUpdate: true,
	OpDelete: true, OpMove: true, OpAssert: true, OpSetVar: true, OpReturn: true,
	OpApplySchema: true,
}

// OrderByExpr is one compiled ORDER BY entry for a get/first step.
type OrderByExpr struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Step is one compiled manifest instruction. Every field is a JSON
// expression tree (string/number/bool/null/object/array) except the ones
// that are structural (Op, Table, OrderBy, Limit, Offset, ToTable,
// FieldMap, Name, Into, Message): those
// values are already resolved at compile time, never at call time. Fields
// the step's Op doesn't use are left zero.
type Step struct {
	Op Op `json:"op"`

	Table string `json:"table,omitempty"`

	// Value carries the insert/update payload, the setVar expression, the
	// return expression, or (for applySchema) the schema document.
	Value any `json:"value,omitempty"`

	Where   any           `json:"where,omitempty"`
	OrderBy []OrderByExpr `json:"orderBy,omitempty"`
	Limit   *uint32       `json:"limit,omitempty"`
	Offset  *uint32       `json:"offset,omitempty"`

	// ToTable, FieldMap and Defaults are move-only.
	ToTable  string            `json:"toTable,omitempty"`
	FieldMap map[string]string `json:"fieldMap,omitempty"`
	Defaults map[string]any    `json:"defaults,omitempty"`

	// Condition and Message are assert-only.
	Condition any    `json:"condition,omitempty"`
	Message   string `json:"message,omitempty"`

	// Name is the setVar target variable name.
	Name string `json:"name,omitempty"`

	// Into names the variable this step's result is bound to, if any.
	Into string `json:"into,omitempty"`
}

// Endpoint is one compiled, callable function: its declared argument
// schema and its compiled step list.
type Endpoint struct {
	Name  string                     `json:"name"`
	Mode  Mode                       `json:"mode"`
	Args  map[string]schema.FieldDef `json:"args"`
	Steps []Step                     `json:"steps"`
}

// Manifest is the full compiled deployment: every endpoint, keyed by its
// dotted "<module>.<function>" endpoint key.
type Manifest struct {
	Endpoints map[string]Endpoint `json:"endpoints"`
}

// SourceFile is one uploaded function source file as the collaborator
// boundary hands it to the compiler: a name (used to derive the endpoint's
// module path) and its UTF-8 text. The compiler is agnostic of where Name
// came from — a relative path, a virtual key, whatever FUNCTIONS_SOURCE_DIR
// resolved to at the collaborator layer.
type SourceFile struct {
	Name string
	Text string
}
