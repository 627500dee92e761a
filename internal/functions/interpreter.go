// Package functions also houses the interpreter half of the runtime
// function engine (spec.md §4.9): validating call arguments against a
// compiled endpoint's schema, then executing its step list against the
// relational store under read-only or transactional semantics.
package functions

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"

	"go.uber.org/zap"

	"baasd/internal/apperr"
	"baasd/internal/jsonval"
	"baasd/internal/planner"
	"baasd/internal/relational"
	"baasd/internal/schema"
)

// writeOps is the set of steps a query (readFunction) endpoint is forbidden
// to execute; attempting one fails the call with a validation error instead
// of silently mutating state (spec.md §4.9, end-to-end scenario 6).
var writeOps = map[Op]bool{
	OpInsert: true, OpUpdate: true, OpDelete: true, OpMove: true, OpApplySchema: true,
}

// Interpreter executes compiled manifest endpoints against a database
// handle and an active schema snapshot. It holds no mutable state of its
// own beyond its collaborators, the same ownership shape every repository
// in this module follows.
type Interpreter struct {
	db       *sql.DB
	maxLimit uint32
	planner  *planner.Planner
	logger   *zap.Logger
}

// New builds an Interpreter. planner may be nil if the deployment never
// uses the dormant applySchema step (spec.md SPEC_FULL.md §5 item 5).
func New(db *sql.DB, maxLimit uint32, pl *planner.Planner, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{db: db, maxLimit: maxLimit, planner: pl, logger: logger}
}

// Call validates args against endpoint's declared schema, then runs its
// step list: without a transaction for a query endpoint (rejecting any
// write step), or inside one transaction for a mutation endpoint, committing
// only after every step succeeds.
func (it *Interpreter) Call(ctx context.Context, doc *schema.Document, endpoint Endpoint, args map[string]any) (any, error) {
	if err := ValidateArgs(endpoint.Args, args); err != nil {
		return nil, err
	}

	if endpoint.Mode == ModeQuery {
		repo := relational.New(it.db, it.maxLimit, it.logger)
		return it.run(ctx, doc, endpoint, repo, nil, args)
	}

	tx, err := it.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Database(err, "failed to begin function call transaction")
	}
	repo := relational.New(tx, it.maxLimit, it.logger)
	result, err := it.run(ctx, doc, endpoint, repo, tx, args)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Database(err, "failed to commit function call")
	}
	return result, nil
}

// run executes endpoint.Steps in order, maintaining the frozen args
// environment and the growing vars environment, and returns either the
// value of the first return step reached or the last step's result.
func (it *Interpreter) run(ctx context.Context, doc *schema.Document, endpoint Endpoint, repo *relational.Repository, tx *sql.Tx, args map[string]any) (any, error) {
	vars := map[string]any{}
	var lastResult any

	for _, step := range endpoint.Steps {
		if endpoint.Mode == ModeQuery && writeOps[step.Op] {
			return nil, apperr.Validation("query function cannot execute '%s' step", step.Op)
		}

		result, returned, retVal, err := it.runStep(ctx, doc, repo, tx, step, args, vars)
		if err != nil {
			return nil, err
		}
		if returned {
			return retVal, nil
		}
		if step.Op == OpSetVar {
			vars[step.Name] = result
		} else if step.Into != "" {
			vars[step.Into] = result
		}
		lastResult = result
	}
	return lastResult, nil
}

// runStep evaluates one step's payload expressions and dispatches on its
// Op. When returned is true, retVal is the call's final result and the
// caller must stop the loop immediately.
func (it *Interpreter) runStep(ctx context.Context, doc *schema.Document, repo *relational.Repository, tx *sql.Tx, step Step, args, vars map[string]any) (result any, returned bool, retVal any, err error) {
	switch step.Op {
	case OpGet, OpFirst, OpCount:
		table, err := lookupTable(doc, step.Table)
		if err != nil {
			return nil, false, nil, err
		}
		where, err := resolveExpr(step.Where, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		orderBy := make([]relational.OrderBy, len(step.OrderBy))
		for i, ob := range step.OrderBy {
			orderBy[i] = relational.OrderBy{Field: ob.Field, Desc: ob.Desc}
		}
		switch step.Op {
		case OpGet:
			rows, err := repo.Query(ctx, step.Table, table, relational.QueryOptions{Where: where, OrderBy: orderBy, Limit: step.Limit, Offset: step.Offset})
			return rows, false, nil, err
		case OpFirst:
			row, err := repo.First(ctx, step.Table, table, where, orderBy)
			return row, false, nil, err
		default:
			count, err := repo.Count(ctx, step.Table, table, where)
			return count, false, nil, err
		}

	case OpInsert:
		table, err := lookupTable(doc, step.Table)
		if err != nil {
			return nil, false, nil, err
		}
		value, err := resolveExpr(step.Value, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		id, err := repo.Insert(ctx, step.Table, table, value)
		return id, false, nil, err

	case OpUpdate:
		table, err := lookupTable(doc, step.Table)
		if err != nil {
			return nil, false, nil, err
		}
		where, err := resolveExpr(step.Where, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		value, err := resolveExpr(step.Value, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		affected, err := repo.Update(ctx, step.Table, table, relational.Selector{Where: where}, value)
		return affected, false, nil, err

	case OpDelete:
		table, err := lookupTable(doc, step.Table)
		if err != nil {
			return nil, false, nil, err
		}
		where, err := resolveExpr(step.Where, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		affected, err := repo.Delete(ctx, step.Table, table, relational.Selector{Where: where})
		return affected, false, nil, err

	case OpMove:
		sourceTable, err := lookupTable(doc, step.Table)
		if err != nil {
			return nil, false, nil, err
		}
		targetTable, err := lookupTable(doc, step.ToTable)
		if err != nil {
			return nil, false, nil, err
		}
		where, err := resolveExpr(step.Where, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		defaults, err := resolveDefaults(step.Defaults, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		moved, err := relational.Move(ctx, tx, step.Table, sourceTable, step.ToTable, targetTable, relational.Selector{Where: where}, step.FieldMap, defaults, it.logger)
		return moved, false, nil, err

	case OpAssert:
		condition, err := resolveExpr(step.Condition, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		if !jsonval.Truthy(condition) {
			return nil, false, nil, apperr.Validation("%s", step.Message)
		}
		return nil, false, nil, nil

	case OpSetVar:
		value, err := resolveExpr(step.Value, args, vars)
		return value, false, nil, err

	case OpReturn:
		value, err := resolveExpr(step.Value, args, vars)
		if err != nil {
			return nil, false, nil, err
		}
		return nil, true, value, nil

	case OpApplySchema:
		if it.planner == nil {
			return nil, false, nil, apperr.Internal("applySchema step executed but no planner is configured")
		}
		var target schema.Document
		if err := roundtripJSON(step.Value, &target); err != nil {
			return nil, false, nil, apperr.Validation("applySchema step payload is not a valid schema document: %v", err)
		}
		if err := it.planner.ApplySchema(ctx, &target); err != nil {
			return nil, false, nil, err
		}
		return nil, false, nil, nil

	default:
		return nil, false, nil, apperr.Internal("unknown step op '%s'", step.Op)
	}
}

func lookupTable(doc *schema.Document, tableName string) (schema.TableDef, error) {
	if doc == nil {
		return schema.TableDef{}, apperr.Internal("no active schema is loaded")
	}
	table, ok := doc.Tables[tableName]
	if !ok {
		return schema.TableDef{}, apperr.NotFound("table '%s' is not declared in the active schema", tableName)
	}
	return table, nil
}

func resolveDefaults(defaults map[string]any, args, vars map[string]any) (map[string]any, error) {
	if defaults == nil {
		return nil, nil
	}
	out := make(map[string]any, len(defaults))
	for key, expr := range defaults {
		value, err := resolveExpr(expr, args, vars)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func roundtripJSON(v any, target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// resolveExpr walks a compiled JSON expression tree, substituting "$arg"/
// "$arg.<path>" against args and "$var.<name>[.<path>]" against vars.
// Everything else (literal strings, numbers, bools, null, nested
// arrays/objects) passes through unchanged except for recursion into
// array/object children.
func resolveExpr(value any, args, vars map[string]any) (any, error) {
	switch t := value.(type) {
	case string:
		return resolveStringExpr(t, args, vars)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := resolveExpr(item, args, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, item := range t {
			resolved, err := resolveExpr(item, args, vars)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveStringExpr(s string, args, vars map[string]any) (any, error) {
	switch {
	case s == "$arg":
		return args, nil
	case strings.HasPrefix(s, "$arg."):
		path := s[len("$arg."):]
		return resolveScopedPath(args, path, "args")
	case s == "$var.":
		return nil, apperr.Validation("invalid variable reference '$var.' in function expression")
	case strings.HasPrefix(s, "$var."):
		rest := s[len("$var."):]
		name, path := splitReferencePath(rest)
		root, ok := vars[name]
		if !ok {
			return nil, apperr.Validation("function expression references unknown variable '%s'", name)
		}
		if path == "" {
			return root, nil
		}
		return resolveScopedPath(root, path, "vars")
	default:
		return s, nil
	}
}

func splitReferencePath(s string) (head, rest string) {
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func resolveScopedPath(root any, path, scopeName string) (any, error) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		obj, ok := jsonval.Object(current)
		if !ok {
			return nil, apperr.Validation("cannot resolve '%s': '%s' is not an object segment", path, segment)
		}
		next, present := obj[segment]
		if !present {
			return nil, apperr.Validation("missing '%s' reference path segment '%s' in %s scope", path, segment, scopeName)
		}
		current = next
	}
	return current, nil
}

// ValidateArgs checks a call's argument map against an endpoint's declared
// schema: every input key must be declared, and every declared key must be
// present (unless Optional) and type-match.
func ValidateArgs(argsSchema map[string]schema.FieldDef, input map[string]any) error {
	for key := range input {
		if _, ok := argsSchema[key]; !ok {
			return apperr.Validation("unknown argument '%s'", key)
		}
	}
	for name, field := range argsSchema {
		value, present := input[name]
		if !present {
			if field.IsOptional() {
				continue
			}
			return apperr.Validation("missing required argument '%s'", name)
		}
		if err := validateArgValue(name, field, value); err != nil {
			return err
		}
	}
	return nil
}

func validateArgValue(name string, field schema.FieldDef, value any) error {
	if field.Type == schema.FieldOptional {
		if value == nil {
			return nil
		}
		return validateArgValue(name, *field.Inner, value)
	}
	switch field.Type {
	case schema.FieldString, schema.FieldID:
		if _, ok := value.(string); !ok {
			return apperr.Validation("argument '%s' must be a string", name)
		}
	case schema.FieldNumber:
		n, ok := value.(float64)
		if !ok {
			return apperr.Validation("argument '%s' must be a number", name)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return apperr.Validation("argument '%s' must be a finite number", name)
		}
	case schema.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return apperr.Validation("argument '%s' must be a boolean", name)
		}
	case schema.FieldObject:
		if _, ok := value.(map[string]any); !ok {
			return apperr.Validation("argument '%s' must be an object", name)
		}
		for nestedName, nestedField := range field.Shape {
			nestedValue, present := value.(map[string]any)[nestedName]
			if !present {
				if nestedField.IsOptional() {
					continue
				}
				return apperr.Validation("argument '%s.%s' is required", name, nestedName)
			}
			if err := validateArgValue(name+"."+nestedName, nestedField, nestedValue); err != nil {
				return err
			}
		}
	default:
		return apperr.Internal("argument '%s' has unknown field type '%s'", name, field.Type)
	}
	return nil
}
