package falkordb

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// FormatValue renders a Go value as a Cypher literal.
//
// Strings are double-quoted with backslashes and quotes escaped, nil becomes
// null, slices and arrays become lists, and maps with string keys become map
// literals with sorted keys. Values of other types are rendered through fmt
// and quoted.
//
// Example:
//
//	FormatValue([]any{1, "a", nil}) // Returns: [1, "a", null]
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return quoteString(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case *Node:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = FormatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(items, ", ") + "]"
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return formatProperties(m)
	case reflect.Pointer:
		if rv.IsNil() {
			return "null"
		}
		return FormatValue(rv.Elem().Interface())
	}

	return quoteString(fmt.Sprint(v))
}

// formatProperties renders a property map as a Cypher map literal with keys
// in sorted order: {age: 33, name: "Alice"}.
func formatProperties(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + FormatValue(props[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteString(s string) string {
	return `"` + stringEscaper.Replace(s) + `"`
}

// BuildParamsHeader renders query parameters as the "CYPHER k=v ..." prefix
// understood by GRAPH.QUERY. It returns an empty string for no parameters.
//
// Example:
//
//	BuildParamsHeader(map[string]any{"name": "Bob", "age": 7})
//	// Returns: `CYPHER age=7 name="Bob" `
func BuildParamsHeader(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(params[k]))
		b.WriteByte(' ')
	}
	return b.String()
}
