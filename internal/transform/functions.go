package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// TransformFunc rewrites an extracted string before type coercion.
type TransformFunc func(string) string

// builtinFunctions is the default registry; engines copy it so runtime
// registration never mutates shared state.
var builtinFunctions = map[string]TransformFunc{
	"uppercase": strings.ToUpper,
	"lowercase": strings.ToLower,
	"trim":      strings.TrimSpace,
	"reversename": func(s string) string {
		// "Last^First" -> "First Last"; anything else passes through.
		parts := strings.SplitN(s, "^", 2)
		if len(parts) != 2 {
			return s
		}
		return strings.TrimSpace(parts[1] + " " + parts[0])
	},
}

// coerce applies the declared target data type. Coercion is lenient: a
// value that fails to parse is kept as the original string rather than
// failing the whole transform.
func coerce(value, dataType string) any {
	switch strings.ToLower(dataType) {
	case "", "string":
		return value
	case "int":
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return n
		}
		return value
	case "date":
		if ts, err := hl7.ParseTimestamp(value); err == nil {
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
		}
		return value
	case "datetime":
		if ts, err := hl7.ParseTimestamp(value); err == nil {
			return ts
		}
		return value
	default:
		return value
	}
}
