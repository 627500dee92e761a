package relational

import (
	"math"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

var reservedColumns = map[string]struct{}{
	"_id":         {},
	"_created_at": {},
	"_updated_at": {},
	"_extras":     {},
}

// PreparePayload validates a caller-supplied row against a table's declared
// fields. requireAll is true for inserts and for full-replace updates: every
// declared field must then be present (or explicitly Optional). Reserved
// system columns are silently dropped rather than rejected; any key not
// declared on the table is collected into extras instead of failing.
func PreparePayload(table schema.TableDef, value any, requireAll bool) (columns map[string]any, extras map[string]any, err error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, nil, apperr.Validation("payload must be a JSON object")
	}

	columns = make(map[string]any, len(table.Fields))
	extras = make(map[string]any)

	for key, raw := range obj {
		if _, reserved := reservedColumns[key]; reserved {
			continue
		}
		fieldDef, declared := table.Fields[key]
		if !declared {
			extras[key] = raw
			continue
		}
		validated, err := validateFieldValue(key, fieldDef, raw)
		if err != nil {
			return nil, nil, err
		}
		columns[key] = validated
	}

	for fieldName, fieldDef := range table.Fields {
		if _, present := columns[fieldName]; present {
			continue
		}
		if fieldDef.IsOptional() {
			columns[fieldName] = nil
			continue
		}
		if requireAll {
			return nil, nil, apperr.Validation("missing required field '%s'", fieldName)
		}
	}

	return columns, extras, nil
}

func validateFieldValue(fieldName string, fieldDef schema.FieldDef, raw any) (any, error) {
	if fieldDef.Type == schema.FieldOptional {
		if raw == nil {
			return nil, nil
		}
		return validateFieldValue(fieldName, *fieldDef.Inner, raw)
	}

	switch fieldDef.Type {
	case schema.FieldString, schema.FieldID:
		s, ok := raw.(string)
		if !ok {
			return nil, apperr.Validation("field '%s' must be a string", fieldName)
		}
		return s, nil
	case schema.FieldNumber:
		n, ok := raw.(float64)
		if !ok {
			return nil, apperr.Validation("field '%s' must be a number", fieldName)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, apperr.Validation("field '%s' must be a finite number", fieldName)
		}
		return n, nil
	case schema.FieldBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, apperr.Validation("field '%s' must be a boolean", fieldName)
		}
		return b, nil
	case schema.FieldObject:
		o, ok := raw.(map[string]any)
		if !ok {
			return nil, apperr.Validation("field '%s' must be an object", fieldName)
		}
		return o, nil
	default:
		return nil, apperr.Internal("field '%s' has unknown type '%s'", fieldName, fieldDef.Type)
	}
}
