package schema

import (
	"regexp"
	"sort"

	"baasd/internal/apperr"
)

// identifierPattern is the single identifier rule shared by table names,
// field names, and index names across the whole module.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateIdentifier reports a validation error unless name matches the
// shared identifier grammar: a letter, then letters/digits/underscores.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return apperr.Validation("invalid identifier '%s'", name)
	}
	return nil
}

// ValidateTableName is ValidateIdentifier with a table-specific message,
// used anywhere a caller names a table directly (apply, query, move).
func ValidateTableName(name string) error {
	if !identifierPattern.MatchString(name) {
		return apperr.Validation("invalid table name '%s'", name)
	}
	return nil
}

// Validate checks the whole document: every table name and field tree, every
// index, and every migration rule. It does not resolve apply order or check
// for foreign-key cycles; see ResolveApplyOrder for that.
func Validate(doc *Document) error {
	if len(doc.Tables) == 0 {
		return apperr.Validation("schema must contain at least one table")
	}
	for tableName, tableDef := range doc.Tables {
		if err := ValidateTableName(tableName); err != nil {
			return err
		}
		if err := validateTable(tableName, tableDef, doc.Tables); err != nil {
			return err
		}
	}
	return validateMigrations(doc)
}

func validateTable(tableName string, table TableDef, allTables map[string]TableDef) error {
	if len(table.Fields) == 0 {
		return apperr.Validation("table '%s' must define at least one field", tableName)
	}
	for fieldName, fieldDef := range table.Fields {
		if err := ValidateIdentifier(fieldName); err != nil {
			return err
		}
		if err := validateField(tableName, fieldName, fieldDef, allTables); err != nil {
			return err
		}
	}
	for _, idx := range table.Indexes {
		if idx.Name == "" {
			return apperr.Validation("table '%s' contains an index with an empty name", tableName)
		}
		if err := ValidateIdentifier(idx.Name); err != nil {
			return err
		}
		if len(idx.Columns) == 0 {
			return apperr.Validation("index '%s' on table '%s' must include at least one column", idx.Name, tableName)
		}
		for _, col := range idx.Columns {
			if _, ok := table.Fields[col]; !ok {
				return apperr.Validation("index '%s' on table '%s' references unknown field '%s'", idx.Name, tableName, col)
			}
		}
	}
	return nil
}

func validateField(tableName, fieldName string, field FieldDef, allTables map[string]TableDef) error {
	switch field.Type {
	case FieldID:
		if field.Table == "" {
			return apperr.Validation("field '%s.%s' with type 'id' must include target table", tableName, fieldName)
		}
		if _, ok := allTables[field.Table]; !ok {
			return apperr.Validation("field '%s.%s' references unknown table '%s'", tableName, fieldName, field.Table)
		}
	case FieldObject:
		for nestedName, nestedField := range field.Shape {
			nestedPath := fieldName + "." + nestedName
			if err := validateField(tableName, nestedPath, nestedField, allTables); err != nil {
				return err
			}
		}
	case FieldOptional:
		if field.Inner == nil {
			return apperr.Validation("field '%s.%s' optional type requires an 'inner' field definition", tableName, fieldName)
		}
		if field.Inner.Type == FieldOptional {
			return apperr.Validation("field '%s.%s' optional type cannot wrap another optional type", tableName, fieldName)
		}
		return validateField(tableName, fieldName, *field.Inner, allTables)
	case FieldString, FieldNumber, FieldBoolean:
		// no further structure to validate
	default:
		return apperr.Validation("field '%s.%s' has unknown type '%s'", tableName, fieldName, field.Type)
	}
	return nil
}

func validateMigrations(doc *Document) error {
	sourceToTarget := make(map[string]string, len(doc.Migrations.Tables))
	for targetTable, rule := range doc.Migrations.Tables {
		if _, ok := doc.Tables[targetTable]; !ok {
			return apperr.Validation("migration rule references unknown target table '%s'", targetTable)
		}
		if rule.From != nil {
			sourceTable := *rule.From
			if sourceTable == targetTable {
				return apperr.Validation("migration from '%s' to '%s' is invalid (same table)", sourceTable, targetTable)
			}
			if existingTarget, seen := sourceToTarget[sourceTable]; seen && existingTarget != targetTable {
				return apperr.Validation("source table '%s' cannot map to both '%s' and '%s'", sourceTable, existingTarget, targetTable)
			}
			sourceToTarget[sourceTable] = targetTable
		}
		if err := validateMigrationFields(targetTable, rule, doc); err != nil {
			return err
		}
	}
	return nil
}

func validateMigrationFields(targetTable string, rule MigrationRule, doc *Document) error {
	target, ok := doc.Tables[targetTable]
	if !ok {
		return apperr.Validation("unknown target table '%s' in migration rules", targetTable)
	}
	for fieldName := range rule.FieldMap {
		if _, ok := target.Fields[fieldName]; !ok {
			return apperr.Validation("migration fieldMap for '%s' references unknown target field '%s'", targetTable, fieldName)
		}
	}
	for fieldName := range rule.Defaults {
		if _, ok := target.Fields[fieldName]; !ok {
			return apperr.Validation("migration defaults for '%s' references unknown target field '%s'", targetTable, fieldName)
		}
	}
	return nil
}

type visitState int

const (
	stateUnvisited visitState = iota
	stateVisiting
	stateVisited
)

// ResolveApplyOrder returns table names ordered so that every table a field
// of type Id references comes before the table that references it. It fails
// on a foreign-key cycle.
func ResolveApplyOrder(doc *Document) ([]string, error) {
	states := make(map[string]visitState, len(doc.Tables))
	ordered := make([]string, 0, len(doc.Tables))

	var visit func(tableName string) error
	visit = func(tableName string) error {
		switch states[tableName] {
		case stateVisited:
			return nil
		case stateVisiting:
			return apperr.Validation("cyclic foreign-key dependency detected while applying schema at table '%s'", tableName)
		}

		tableDef, ok := doc.Tables[tableName]
		if !ok {
			return apperr.Validation("table '%s' referenced in dependency resolution was not found", tableName)
		}
		states[tableName] = stateVisiting

		for _, fieldDef := range tableDef.Fields {
			base := fieldDef.UnwrapBase()
			if base.Type != FieldID || base.Table == "" || base.Table == tableName {
				continue
			}
			if err := visit(base.Table); err != nil {
				return err
			}
		}

		states[tableName] = stateVisited
		ordered = append(ordered, tableName)
		return nil
	}

	tableNames := make([]string, 0, len(doc.Tables))
	for tableName := range doc.Tables {
		tableNames = append(tableNames, tableName)
	}
	sort.Strings(tableNames)

	for _, tableName := range tableNames {
		if err := visit(tableName); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
