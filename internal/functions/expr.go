package functions

import (
	"regexp"
	"strconv"
	"strings"

	"baasd/internal/apperr"
)

var (
	numberLiteralRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	identifierRe    = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// parseObjectEntries unwraps a `{ ... }` literal and splits its body into
// top-level `key: value` text pairs, keyed by the (unquoted) key. Value
// text is returned unparsed; callers recurse into it via compileExpr or a
// more specific grammar (args schema, handler body).
func parseObjectEntries(objLiteral string) (map[string]string, error) {
	trimmed := strings.TrimSpace(objLiteral)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, apperr.Validation("expected an object literal, got '%s'", snippet(trimmed))
	}
	inner := trimmed[1 : len(trimmed)-1]

	entries := make(map[string]string)
	for _, piece := range splitTopLevel(inner, ',') {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		key, value, ok := splitKeyValue(piece)
		if !ok {
			return nil, apperr.Validation("malformed object entry '%s'", snippet(piece))
		}
		entries[key] = value
	}
	return entries, nil
}

func splitKeyValue(piece string) (key, value string, ok bool) {
	parts := splitTopLevel(piece, ':')
	if len(parts) < 2 {
		return "", "", false
	}
	key = strings.TrimSpace(parts[0])
	key = strings.Trim(key, `"'`)
	value = strings.TrimSpace(strings.Join(parts[1:], ":"))
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

// compileExpr walks one expression's source text into a JSON-compilable
// value. Literals map directly; `args`/`args.<path>` become the `$arg`
// sentinel family; an identifier matching (a prefix of) a previously
// declared handler variable becomes `$var.<name[.path]>`; anything else is
// a validation error naming the offending text.
func compileExpr(text string, declared map[string]bool) (any, error) {
	t := strings.TrimSpace(text)

	switch {
	case t == "true":
		return true, nil
	case t == "false":
		return false, nil
	case t == "null" || t == "undefined":
		return nil, nil
	case isStringLiteral(t):
		return stringLiteralValue(t), nil
	case numberLiteralRe.MatchString(t):
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, apperr.Validation("invalid number literal '%s'", t)
		}
		return f, nil
	case strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}"):
		entries, err := parseObjectEntries(t)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(entries))
		for key, valueText := range entries {
			value, err := compileExpr(valueText, declared)
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	case strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"):
		inner := t[1 : len(t)-1]
		var out []any
		for _, piece := range splitTopLevel(inner, ',') {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			value, err := compileExpr(piece, declared)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case t == "args":
		return "$arg", nil
	case strings.HasPrefix(t, "args."):
		return "$arg" + t[len("args"):], nil
	default:
		head := firstSegment(t)
		if identifierRe.MatchString(head) && declared[head] {
			return "$var." + t, nil
		}
		return nil, apperr.Validation("unrecognized expression '%s'", snippet(t))
	}
}

func firstSegment(t string) string {
	if idx := strings.IndexByte(t, '.'); idx >= 0 {
		return t[:idx]
	}
	return t
}

func snippet(s string) string {
	const max = 80
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
