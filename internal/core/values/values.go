package values

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Values is a configuration value tree as decoded from YAML. Nested mappings
// are map[string]any, sequences are []any, scalars keep their YAML types.
type Values map[string]any

// =============================================================================
// Parsing Functions
// =============================================================================

// Parse decodes a YAML document into a value tree. An empty document yields
// an empty (non-nil) tree.
func Parse(data []byte) (Values, error) {
	var v Values
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValues, err)
	}
	if v == nil {
		v = Values{}
	}
	return v, nil
}

// ParseSet builds a value tree from "path=value" assignments as given on a
// command line. Paths are dotted ("db.port=5432"), values are parsed as YAML
// scalars so numbers, booleans and null keep their types. Later assignments
// to the same path win.
func ParseSet(args []string) (Values, error) {
	out := Values{}
	for _, arg := range args {
		path, raw, ok := strings.Cut(arg, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%w: set argument %q is not of the form path=value", ErrInvalidValues, arg)
		}
		var val any
		if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
			return nil, fmt.Errorf("%w: set argument %q: %v", ErrInvalidValues, arg, err)
		}
		Set(out, path, val)
	}
	return out, nil
}

// =============================================================================
// Merge Functions
// =============================================================================

// Merge combines value trees with later layers taking precedence. Mappings
// merge recursively; scalars and sequences in a later layer replace the
// earlier value wholesale. An explicit null in a later layer overrides (the
// key stays present with a nil value). The result shares no memory with the
// inputs and Merge(Merge(a, b), c) equals Merge(a, Merge(b, c)).
func Merge(layers ...Values) Values {
	out := map[string]any{}
	for _, layer := range layers {
		out = mergeMaps(out, layer)
	}
	return out
}

// mergeMaps merges src into dst, mutating and returning dst. Values copied
// from src are deep-copied first so callers never alias input trees.
func mergeMaps(dst, src map[string]any) map[string]any {
	for key, srcVal := range src {
		srcMap, srcIsMap := asMap(srcVal)
		if srcIsMap {
			if dstMap, dstIsMap := asMap(dst[key]); dstIsMap {
				dst[key] = mergeMaps(dstMap, srcMap)
				continue
			}
			dst[key] = mergeMaps(map[string]any{}, srcMap)
			continue
		}
		dst[key] = deepCopy(srcVal)
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Values:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case Values:
		return mergeMaps(map[string]any{}, val)
	case map[string]any:
		return mergeMaps(map[string]any{}, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// Path Functions
// =============================================================================

// Lookup resolves a dotted path in a value tree. The second return reports
// whether the full path exists; a present key holding null returns (nil, true).
func Lookup(v Values, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(v)
	for _, part := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes a value at a dotted path, creating intermediate mappings as
// needed. Existing non-mapping values along the path are replaced.
func Set(v Values, path string, val any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(v)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = val
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateRequired checks that every listed path resolves to a non-null value.
// Paths are checked in sorted order and the first failure is returned.
func ValidateRequired(v Values, required []string) error {
	paths := make([]string, len(required))
	copy(paths, required)
	sort.Strings(paths)

	for _, path := range paths {
		val, ok := Lookup(v, path)
		if !ok || val == nil {
			return NewMissingValueError(path)
		}
	}
	return nil
}
