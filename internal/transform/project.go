package transform

import "fmt"

// FieldTable binds result keys to setters on a caller-defined record type,
// replacing reflection-driven projection with an explicit table. Keys
// absent from the result leave their fields at zero values.
type FieldTable[T any] map[string]func(target *T, value any)

// Project builds a T from a result using the field table.
func Project[T any](res Result, table FieldTable[T]) T {
	var out T
	for key, set := range table {
		if v, ok := res[key]; ok {
			set(&out, v)
		}
	}
	return out
}

// String coerces a result value back to its string form, for setters whose
// fields are plain strings.
func String(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
