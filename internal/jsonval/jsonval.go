// Package jsonval holds small helpers for working with the dynamic JSON
// values (`map[string]any`, `[]any`, `string`, `float64`, `bool`, `nil`) that
// flow through the where-clause compiler and the function interpreter. Go's
// decoded JSON already behaves like the tagged Value type the original
// system modeled explicitly in Rust, so this package favors plain `any` and
// type switches over introducing a wrapper enum.
package jsonval

// Object asserts v is a JSON object and returns it, or false.
func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Truthy implements the interpreter's falsy set: null, false, 0, "", empty
// array, and empty object are falsy; everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) != 0
	case map[string]any:
		return len(t) != 0
	default:
		return true
	}
}
