package functions

import (
	"strconv"
	"strings"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

// compileHandler compiles a `async (ctx, args) => { ... }` handler literal
// into an ordered step list. The args schema itself doesn't constrain
// compilation (unknown arg paths fail at call time against a live call
// argument map, not here); only its presence as a parameter documents that
// a handler's args. expressions are validated against it at runtime.
func compileHandler(handlerLiteral string, _ map[string]schema.FieldDef) ([]Step, error) {
	body, err := extractArrowBody(handlerLiteral)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("handler body is empty")
	}

	declared := map[string]bool{}
	var steps []Step
	for _, stmt := range splitTopLevel(body, ';') {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		emitted, varName, skip, err := compileStatement(stmt, declared)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		steps = append(steps, emitted...)
		if varName != "" {
			declared[varName] = true
		}
	}
	return steps, nil
}

// extractArrowBody pulls the `{ ... }` block out of `async (ctx, args) => {
// ... }` (or the non-async spelling, or single/double/no arg lists); the
// compiler requires a block body, never a bare expression arrow.
func extractArrowBody(literal string) (string, error) {
	arrow := strings.Index(literal, "=>")
	if arrow < 0 {
		return "", apperr.Validation("handler must be an arrow function")
	}
	rest := strings.TrimSpace(literal[arrow+2:])
	if !strings.HasPrefix(rest, "{") {
		return "", apperr.Validation("handler body must be a block statement")
	}
	closeIdx, err := indexMatchingClose(rest, 0)
	if err != nil {
		return "", err
	}
	return rest[1 : closeIdx-1], nil
}

type chainCall struct {
	method string
	args   string
}

// parseDBChain parses `ctx.db.<method>(...)[.<method>(...)]*` into its
// ordered calls, or reports ok=false if expr isn't shaped that way.
func parseDBChain(expr string) ([]chainCall, bool) {
	const prefix = "ctx.db."
	if !strings.HasPrefix(expr, prefix) {
		return nil, false
	}
	rest := expr[len(prefix):]
	var calls []chainCall
	for {
		openIdx := strings.IndexByte(rest, '(')
		if openIdx < 0 {
			return nil, false
		}
		method := rest[:openIdx]
		if !identifierRe.MatchString(method) {
			return nil, false
		}
		closeIdx, err := indexMatchingClose(rest, openIdx)
		if err != nil {
			return nil, false
		}
		calls = append(calls, chainCall{method: method, args: rest[openIdx+1 : closeIdx-1]})
		rest = strings.TrimSpace(rest[closeIdx:])
		if rest == "" {
			return calls, true
		}
		if !strings.HasPrefix(rest, ".") {
			return nil, false
		}
		rest = strings.TrimSpace(rest[1:])
	}
}

func splitArgs(argsText string) []string {
	var out []string
	for _, piece := range splitTopLevel(argsText, ',') {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func tableNameArg(argText, context string) (string, error) {
	argText = strings.TrimSpace(argText)
	if !isStringLiteral(argText) {
		return "", apperr.Validation("%s: table name must be a string literal", context)
	}
	return stringLiteralValue(argText), nil
}

// compileStatement compiles one source statement. It returns the emitted
// steps (almost always exactly one; the `return await ctx.db.get(...)`
// sugar emits two), the name of a newly-declared variable (if any), and
// skip=true for statements that compile to nothing (console.log, blanks).
func compileStatement(stmt string, declared map[string]bool) ([]Step, string, bool, error) {
	if strings.HasPrefix(stmt, "console.log(") {
		return nil, "", true, nil
	}

	if stmt == "return" {
		return []Step{{Op: OpReturn, Value: nil}}, "", false, nil
	}
	if strings.HasPrefix(stmt, "return ") {
		return compileReturn(strings.TrimSpace(stmt[len("return "):]), declared)
	}

	if strings.HasPrefix(stmt, "const ") {
		return compileConstDecl(strings.TrimSpace(stmt[len("const "):]), declared)
	}

	return nil, "", false, apperr.Validation("unrecognized statement '%s'", snippet(stmt))
}

func compileConstDecl(rest string, declared map[string]bool) ([]Step, string, bool, error) {
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, "", false, apperr.Validation("malformed const declaration '%s'", snippet(rest))
	}
	name := strings.TrimSpace(rest[:eq])
	if !identifierRe.MatchString(name) {
		return nil, "", false, apperr.Validation("invalid variable name '%s'", name)
	}
	valueExpr := strings.TrimSpace(rest[eq+1:])

	awaited := strings.HasPrefix(valueExpr, "await ")
	if awaited {
		valueExpr = strings.TrimSpace(valueExpr[len("await "):])
	}

	if calls, ok := parseDBChain(valueExpr); ok && awaited {
		step, err := compileDBChainStep(calls, name, declared)
		if err != nil {
			return nil, "", false, err
		}
		return []Step{step}, name, false, nil
	}
	if awaited {
		return nil, "", false, apperr.Validation("unrecognized awaited expression '%s'", snippet(valueExpr))
	}

	value, err := compileExpr(valueExpr, declared)
	if err != nil {
		return nil, "", false, err
	}
	return []Step{{Op: OpSetVar, Name: name, Value: value}}, name, false, nil
}

// compileDBChainStep compiles one ctx.db... call chain (read/insert/get)
// into its corresponding step, with into set to the declared variable name.
func compileDBChainStep(calls []chainCall, into string, declared map[string]bool) (Step, error) {
	if len(calls) == 0 {
		return Step{}, apperr.Validation("empty ctx.db call chain")
	}
	head := calls[0]
	switch head.method {
	case "read":
		return compileReadChain(calls, into)
	case "insert":
		return compileInsertCall(head, into, declared)
	case "get":
		return compileGetCall(head, into, declared)
	default:
		return Step{}, apperr.Validation("unsupported ctx.db.%s(...) call", head.method)
	}
}

func compileReadChain(calls []chainCall, into string) (Step, error) {
	table, err := tableNameArg(calls[0].args, "ctx.db.read")
	if err != nil {
		return Step{}, err
	}
	step := Step{Op: OpGet, Table: table, Into: into}

	sawCollect := false
	for _, call := range calls[1:] {
		switch call.method {
		case "where":
			cond, err := compileExpr(call.args, map[string]bool{})
			if err != nil {
				return Step{}, err
			}
			step.Where = cond
		case "orderBy":
			parts := splitArgs(call.args)
			if len(parts) != 2 {
				return Step{}, apperr.Validation(".orderBy(...) requires (field, direction)")
			}
			field, err := tableNameArg(parts[0], ".orderBy field")
			if err != nil {
				return Step{}, err
			}
			direction, err := tableNameArg(parts[1], ".orderBy direction")
			if err != nil {
				return Step{}, err
			}
			desc, err := orderByDirection(direction)
			if err != nil {
				return Step{}, err
			}
			step.OrderBy = append(step.OrderBy, OrderByExpr{Field: field, Desc: desc})
		case "limit":
			n, err := parseUintArg(call.args, ".limit")
			if err != nil {
				return Step{}, err
			}
			step.Limit = &n
		case "offset":
			n, err := parseUintArg(call.args, ".offset")
			if err != nil {
				return Step{}, err
			}
			step.Offset = &n
		case "collect":
			sawCollect = true
		default:
			return Step{}, apperr.Validation("unsupported ctx.db.read(...).%s(...) call", call.method)
		}
	}
	if !sawCollect {
		return Step{}, apperr.Validation("ctx.db.read(...) chain must end in .collect()")
	}
	return step, nil
}

func orderByDirection(direction string) (bool, error) {
	switch strings.ToLower(direction) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, apperr.Validation("unsupported .orderBy direction '%s', expected 'asc' or 'desc'", direction)
	}
}

func parseUintArg(text string, context string) (uint32, error) {
	text = strings.TrimSpace(text)
	if !numberLiteralRe.MatchString(text) {
		return 0, apperr.Validation("%s expects a numeric literal", context)
	}
	n, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, apperr.Validation("%s expects a non-negative integer", context)
	}
	return uint32(n), nil
}

func compileInsertCall(call chainCall, into string, declared map[string]bool) (Step, error) {
	parts := splitArgs(call.args)
	if len(parts) != 2 {
		return Step{}, apperr.Validation("ctx.db.insert(...) requires (table, value)")
	}
	table, err := tableNameArg(parts[0], "ctx.db.insert")
	if err != nil {
		return Step{}, err
	}
	value, err := compileExpr(parts[1], declared)
	if err != nil {
		return Step{}, err
	}
	return Step{Op: OpInsert, Table: table, Value: value, Into: into}, nil
}

func compileGetCall(call chainCall, into string, declared map[string]bool) (Step, error) {
	parts := splitArgs(call.args)
	if len(parts) != 2 {
		return Step{}, apperr.Validation("ctx.db.get(...) requires (table, id)")
	}
	table, err := tableNameArg(parts[0], "ctx.db.get")
	if err != nil {
		return Step{}, err
	}
	idExpr, err := compileExpr(parts[1], declared)
	if err != nil {
		return Step{}, err
	}
	where := map[string]any{"_id": map[string]any{"$eq": idExpr}}
	return Step{Op: OpFirst, Table: table, Where: where, Into: into}, nil
}

// returnValueVar names the synthetic variable the `return await
// ctx.db.get(...)` sugar binds its `first` step's result to, per spec.md
// §4.8: "return await ctx.db.get(...) is sugar for a first then a return
// $var.__return_value".
const returnValueVar = "__return_value"

// compileReturn compiles `return <expr>`, including the
// `return await ctx.db.get(...)` sugar, which desugars into a `first` step
// bound to a synthetic variable followed by a `return` of that variable.
func compileReturn(expr string, declared map[string]bool) ([]Step, string, bool, error) {
	awaited := strings.HasPrefix(expr, "await ")
	if awaited {
		inner := strings.TrimSpace(expr[len("await "):])
		if calls, ok := parseDBChain(inner); ok {
			if calls[0].method != "get" {
				return nil, "", false, apperr.Validation("return await ctx.db.%s(...) is not supported; only ctx.db.get(...) may be awaited in a return", calls[0].method)
			}
			first, err := compileGetCall(calls[0], returnValueVar, declared)
			if err != nil {
				return nil, "", false, err
			}
			ret := Step{Op: OpReturn, Value: "$var." + returnValueVar}
			return []Step{first, ret}, "", false, nil
		}
		return nil, "", false, apperr.Validation("unrecognized awaited return expression '%s'", snippet(inner))
	}

	value, err := compileExpr(expr, declared)
	if err != nil {
		return nil, "", false, err
	}
	return []Step{{Op: OpReturn, Value: value}}, "", false, nil
}
