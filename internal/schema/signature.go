package schema

import (
	"encoding/json"
	"hash/fnv"
	"sort"

	"baasd/internal/apperr"
)

// Signature returns a deterministic, order-independent hash of the whole
// document: the same tables and fields hash identically no matter what order
// their keys were inserted in. Grounded on the FNV-1a-over-canonical-JSON
// idiom the teacher already uses for safe backup table names.
func Signature(doc *Document) (string, error) {
	canonical, err := canonicalize(doc)
	if err != nil {
		return "", apperr.Internal("invalid schema json: %v", err)
	}
	return hashHex(canonical), nil
}

// TableSignatures returns a signature per table, keyed by table name.
func TableSignatures(doc *Document) (map[string]string, error) {
	signatures := make(map[string]string, len(doc.Tables))
	for tableName, tableDef := range doc.Tables {
		canonical, err := canonicalize(tableDef)
		if err != nil {
			return nil, apperr.Internal("failed to compute signature for table '%s': %v", tableName, err)
		}
		signatures[tableName] = hashHex(canonical)
	}
	return signatures, nil
}

func hashHex(canonical string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonical))
	return formatHex16(h.Sum64())
}

func formatHex16(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// canonicalize marshals v to JSON, then re-serializes it with object keys
// sorted lexicographically at every nesting level so that two documents
// differing only in field insertion order produce identical output.
func canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	return canonicalizeValue(generic), nil
}

func canonicalizeValue(value any) string {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			keyJSON, _ := json.Marshal(k)
			out += string(keyJSON) + ":" + canonicalizeValue(v[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, item := range v {
			if i > 0 {
				out += ","
			}
			out += canonicalizeValue(item)
		}
		return out + "]"
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}
