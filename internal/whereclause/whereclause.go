// Package whereclause compiles a JSON predicate tree into a parameterized
// SQL fragment plus an ordered list of bind parameters. It never embeds a
// value directly into the generated SQL string.
package whereclause

import (
	"strings"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

// Compiled is the result of compiling a where clause: the SQL fragment (with
// `?` placeholders, no leading "WHERE") and the bind params in the order the
// placeholders appear. Both are empty when no clause was supplied.
type Compiled struct {
	Clause string
	Params []any
}

// Compile compiles an optional JSON predicate against the set of field names
// a caller is allowed to filter on (a table's declared columns, typically).
// A nil condition compiles to an empty Compiled value.
func Compile(condition any, allowedFields map[string]struct{}) (Compiled, error) {
	if condition == nil {
		return Compiled{}, nil
	}
	sql, params, err := compileCondition(condition, allowedFields)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{Clause: sql, Params: params}, nil
}

func compileCondition(condition any, allowedFields map[string]struct{}) (string, []any, error) {
	obj, ok := condition.(map[string]any)
	if !ok {
		return "", nil, apperr.Validation("where clause must be an object")
	}

	var pieces []string
	var params []any

	for key, value := range obj {
		if key == "$and" || key == "$or" {
			nested, ok := value.([]any)
			if !ok {
				return "", nil, apperr.Validation("%s must be an array", key)
			}
			if len(nested) == 0 {
				return "", nil, apperr.Validation("%s cannot be empty", key)
			}
			var nestedSQL []string
			for _, entry := range nested {
				entrySQL, entryParams, err := compileCondition(entry, allowedFields)
				if err != nil {
					return "", nil, err
				}
				nestedSQL = append(nestedSQL, "("+entrySQL+")")
				params = append(params, entryParams...)
			}
			glue := " AND "
			if key == "$or" {
				glue = " OR "
			}
			pieces = append(pieces, "("+strings.Join(nestedSQL, glue)+")")
			continue
		}

		if _, ok := allowedFields[key]; !ok {
			return "", nil, apperr.Validation("unknown filter field '%s'", key)
		}
		if err := validateFieldIdentifier(key); err != nil {
			return "", nil, err
		}

		if opsMap, ok := value.(map[string]any); ok && hasOperatorKey(opsMap) {
			for operator, operand := range opsMap {
				piece, pieceParams, err := compileOperator(key, operator, operand)
				if err != nil {
					return "", nil, err
				}
				pieces = append(pieces, piece)
				params = append(params, pieceParams...)
			}
			continue
		}

		if value == nil {
			pieces = append(pieces, quoteIdent(key)+" IS NULL")
		} else {
			param, err := valueToParam(value)
			if err != nil {
				return "", nil, err
			}
			pieces = append(pieces, quoteIdent(key)+" = ?")
			params = append(params, param)
		}
	}

	if len(pieces) == 0 {
		return "", nil, apperr.Validation("where clause must contain at least one condition")
	}
	return strings.Join(pieces, " AND "), params, nil
}

func hasOperatorKey(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func compileOperator(fieldName, operator string, operand any) (string, []any, error) {
	sqlField := quoteIdent(fieldName)
	switch operator {
	case "$eq":
		if operand == nil {
			return sqlField + " IS NULL", nil, nil
		}
		param, err := valueToParam(operand)
		if err != nil {
			return "", nil, err
		}
		return sqlField + " = ?", []any{param}, nil
	case "$ne":
		if operand == nil {
			return sqlField + " IS NOT NULL", nil, nil
		}
		param, err := valueToParam(operand)
		if err != nil {
			return "", nil, err
		}
		return sqlField + " <> ?", []any{param}, nil
	case "$gt", "$gte", "$lt", "$lte":
		number, err := numberParam(operand)
		if err != nil {
			return "", nil, err
		}
		return sqlField + " " + comparisonSQL(operator) + " ?", []any{number}, nil
	case "$contains":
		text, ok := operand.(string)
		if !ok {
			return "", nil, apperr.Validation("$contains expects a string")
		}
		return sqlField + " LIKE ?", []any{"%" + text + "%"}, nil
	case "$in", "$nin":
		items, ok := operand.([]any)
		if !ok {
			return "", nil, apperr.Validation("%s expects an array", operator)
		}
		if len(items) == 0 {
			return "", nil, apperr.Validation("%s cannot be empty", operator)
		}
		params := make([]any, 0, len(items))
		for _, item := range items {
			param, err := valueToParam(item)
			if err != nil {
				return "", nil, err
			}
			params = append(params, param)
		}
		placeholders := strings.Repeat("?, ", len(params))
		placeholders = strings.TrimSuffix(placeholders, ", ")
		if operator == "$in" {
			return sqlField + " IN (" + placeholders + ")", params, nil
		}
		return sqlField + " NOT IN (" + placeholders + ")", params, nil
	default:
		return "", nil, apperr.Validation("unsupported where operator '%s'", operator)
	}
}

func comparisonSQL(operator string) string {
	switch operator {
	case "$gt":
		return ">"
	case "$gte":
		return ">="
	case "$lt":
		return "<"
	default:
		return "<="
	}
}

func valueToParam(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return v, nil
	case bool:
		return v, nil
	default:
		return nil, apperr.Validation("where values must be string, number, or boolean")
	}
}

func numberParam(value any) (float64, error) {
	f, ok := value.(float64)
	if !ok {
		return 0, apperr.Validation("comparison operator expects a number")
	}
	return f, nil
}

// systemFields are the managed-table columns that start with an underscore
// and so fall outside the identifier grammar; they are still filterable
// whenever the caller's allowed set includes them.
var systemFields = map[string]struct{}{"_id": {}, "_created_at": {}, "_updated_at": {}}

func validateFieldIdentifier(name string) error {
	if _, ok := systemFields[name]; ok {
		return nil
	}
	return schema.ValidateIdentifier(name)
}

// quoteIdent backtick-quotes an identifier, doubling embedded backticks. An
// identifier reaching here has already passed validateFieldIdentifier, so
// this never needs to reject anything; it exists to match the exact quoting
// idiom used by the DDL generator.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
