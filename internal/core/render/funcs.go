package render

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Template Functions
// =============================================================================

// buildFuncMap constructs the set of functions available to package templates.
// Every function is pure: no clock, no randomness, no environment and no
// filesystem access, so rendered output depends only on template and values.
func buildFuncMap() template.FuncMap {
	return template.FuncMap{
		"default":   funcDefault,
		"ternary":   funcTernary,
		"quote":     funcQuote,
		"squote":    funcSquote,
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"trim":      strings.TrimSpace,
		"indent":    funcIndent,
		"nindent":   funcNindent,
		"replace":   funcReplace,
		"join":      funcJoin,
		"contains":  funcContains,
		"b64enc":    funcB64enc,
		"sha256sum": funcSha256sum,
		"toYaml":    funcToYaml,
	}
}

// funcDefault returns def when the given value is empty (nil, "", 0, false,
// or an empty collection), otherwise the value itself.
func funcDefault(def any, given ...any) any {
	if len(given) == 0 || isEmpty(given[0]) {
		return def
	}
	return given[0]
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func funcTernary(trueVal, falseVal any, cond bool) any {
	if cond {
		return trueVal
	}
	return falseVal
}

func funcQuote(v any) string {
	return fmt.Sprintf("%q", toString(v))
}

func funcSquote(v any) string {
	return "'" + toString(v) + "'"
}

func funcIndent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
}

func funcNindent(spaces int, s string) string {
	return "\n" + funcIndent(spaces, s)
}

func funcReplace(old, new, s string) string {
	return strings.ReplaceAll(s, old, new)
}

func funcJoin(sep string, v any) string {
	switch items := v.(type) {
	case []string:
		return strings.Join(items, sep)
	case []any:
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = toString(item)
		}
		return strings.Join(parts, sep)
	default:
		return toString(v)
	}
}

func funcContains(substr, s string) bool {
	return strings.Contains(s, substr)
}

func funcB64enc(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func funcSha256sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func funcToYaml(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(out), "\n")
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
