package functions

import (
	"strings"

	"baasd/internal/apperr"
	"baasd/internal/schema"
)

// exportMarker is the token every compilable declaration starts with. The
// scanner hunts for this literal text rather than tokenizing the whole file,
// matching spec.md §9's "hand-rolled balanced-brace scanner, not a full JS
// parser" design note.
const exportMarker = "export const "

// CompileManifest compiles every uploaded source file into one Manifest,
// rejecting duplicate endpoint keys across files. The endpoint key is
// "<module>.<name>": module is the file's path with its extension stripped
// and path separators replaced by dots, name is the exported identifier.
func CompileManifest(files []SourceFile) (*Manifest, error) {
	manifest := &Manifest{Endpoints: make(map[string]Endpoint)}
	for _, file := range files {
		endpoints, err := compileFile(file)
		if err != nil {
			return nil, apperr.Validation("%s: %v", file.Name, err)
		}
		module := modulePath(file.Name)
		for _, ep := range endpoints {
			key := ep.Name
			if module != "" {
				key = module + "." + ep.Name
			}
			if _, exists := manifest.Endpoints[key]; exists {
				return nil, apperr.Validation("duplicate endpoint key '%s'", key)
			}
			manifest.Endpoints[key] = ep
		}
	}
	return manifest, nil
}

// modulePath derives the dotted module prefix from an uploaded file's name.
func modulePath(name string) string {
	trimmed := name
	if idx := strings.LastIndexByte(trimmed, '.'); idx > 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.ReplaceAll(trimmed, "/", ".")
	return strings.Trim(trimmed, ".")
}

// compileFile strips comments, then repeatedly locates the next
// "export const" declaration and compiles it.
func compileFile(file SourceFile) ([]Endpoint, error) {
	text := stripLineComments(file.Text)

	var endpoints []Endpoint
	pos := 0
	for {
		idx := strings.Index(text[pos:], exportMarker)
		if idx < 0 {
			break
		}
		start := pos + idx
		ep, next, err := compileExport(text, start+len(exportMarker))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
		pos = next
	}
	return endpoints, nil
}

// compileExport parses one declaration starting right after "export const ":
// `<name> = (readFunction|writeFunction)({ args: {...}, handler: ... });`.
// It returns the compiled endpoint and the text offset just past this
// declaration's closing call paren, so the caller can resume scanning.
func compileExport(text string, pos int) (Endpoint, int, error) {
	rest := text[pos:]
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return Endpoint{}, 0, apperr.Validation("expected '=' after exported identifier")
	}
	name := strings.TrimSpace(rest[:eq])
	if !identifierRe.MatchString(name) {
		return Endpoint{}, 0, apperr.Validation("invalid exported function name '%s'", name)
	}

	afterEq := strings.TrimLeft(rest[eq+1:], " \t\r\n")
	var mode Mode
	switch {
	case strings.HasPrefix(afterEq, "readFunction"):
		mode = ModeQuery
		afterEq = afterEq[len("readFunction"):]
	case strings.HasPrefix(afterEq, "writeFunction"):
		mode = ModeMutation
		afterEq = afterEq[len("writeFunction"):]
	default:
		return Endpoint{}, 0, apperr.Validation("exported value '%s' must be readFunction(...) or writeFunction(...)", snippet(afterEq))
	}

	afterEq = strings.TrimLeft(afterEq, " \t\r\n")
	if len(afterEq) == 0 || afterEq[0] != '(' {
		return Endpoint{}, 0, apperr.Validation("expected '(' after readFunction/writeFunction")
	}
	callCloseRel, err := indexMatchingClose(afterEq, 0)
	if err != nil {
		return Endpoint{}, 0, err
	}
	callBody := strings.TrimSpace(afterEq[1 : callCloseRel-1])

	entries, err := parseObjectEntries(callBody)
	if err != nil {
		return Endpoint{}, 0, apperr.Validation("function '%s': %v", name, err)
	}

	argsText, ok := entries["args"]
	if !ok {
		return Endpoint{}, 0, apperr.Validation("function '%s' is missing an 'args' declaration", name)
	}
	handlerText, ok := entries["handler"]
	if !ok {
		return Endpoint{}, 0, apperr.Validation("function '%s' is missing a 'handler' declaration", name)
	}

	argsSchema, err := compileArgsSchema(argsText)
	if err != nil {
		return Endpoint{}, 0, apperr.Validation("function '%s': %v", name, err)
	}

	steps, err := compileHandler(handlerText, argsSchema)
	if err != nil {
		return Endpoint{}, 0, apperr.Validation("function '%s': %v", name, err)
	}

	// Resume scanning right after the closing ')' of the readFunction/
	// writeFunction call; a trailing ';' (if present) is harmless to
	// rescan since it never matches exportMarker.
	consumedInRest := (len(rest) - len(afterEq)) + callCloseRel
	return Endpoint{Name: name, Mode: mode, Args: argsSchema, Steps: steps}, pos + consumedInRest, nil
}

// compileArgsSchema compiles the `args: { ... }` object into a field schema.
// Each entry's initializer must be one of value.string(), value.number(),
// value.boolean() or value.id("table"); Optional and Object are disallowed
// at this top level (spec.md §4.8).
func compileArgsSchema(argsLiteral string) (map[string]schema.FieldDef, error) {
	entries, err := parseObjectEntries(argsLiteral)
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.FieldDef, len(entries))
	for fieldName, initializer := range entries {
		if err := schema.ValidateIdentifier(fieldName); err != nil {
			return nil, err
		}
		field, err := compileArgInitializer(fieldName, strings.TrimSpace(initializer))
		if err != nil {
			return nil, err
		}
		out[fieldName] = field
	}
	return out, nil
}

func compileArgInitializer(fieldName, initializer string) (schema.FieldDef, error) {
	switch {
	case initializer == "value.string()":
		return schema.FieldDef{Type: schema.FieldString}, nil
	case initializer == "value.number()":
		return schema.FieldDef{Type: schema.FieldNumber}, nil
	case initializer == "value.boolean()":
		return schema.FieldDef{Type: schema.FieldBoolean}, nil
	case strings.HasPrefix(initializer, "value.id(") && strings.HasSuffix(initializer, ")"):
		arg := strings.TrimSpace(initializer[len("value.id(") : len(initializer)-1])
		if !isStringLiteral(arg) {
			return schema.FieldDef{}, apperr.Validation("arg '%s': value.id(...) requires a string literal table name", fieldName)
		}
		return schema.FieldDef{Type: schema.FieldID, Table: stringLiteralValue(arg)}, nil
	default:
		return schema.FieldDef{}, apperr.Validation("arg '%s' has unrecognized initializer '%s'", fieldName, snippet(initializer))
	}
}
