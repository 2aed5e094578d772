package expr

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Truthy reports the truthiness of v: nil, false, 0, NaN and "" are
// false; every other value, including empty maps and slices, is true.
func Truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

// String formats v the way the markup layer prints values: numbers use
// the shortest round-trip form, nil prints as "null", slices print their
// elements joined by commas and maps print as "[object Object]".
func String(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			if e := rv.Index(i).Interface(); e != nil {
				parts[i] = String(e)
			}
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// LooseEqual compares a and b with coercion: numbers, numeric strings
// and booleans compare numerically, compound values compare by their
// String form against primitives, and nil equals only nil.
func LooseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case string:
			return x == toNumber(y)
		case bool:
			return x == toNumber(y)
		}
		return LooseEqual(x, String(b))
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case float64:
			return toNumber(x) == y
		case bool:
			return toNumber(x) == toNumber(y)
		}
		return x == String(b)
	case bool:
		return LooseEqual(toNumber(x), b)
	}

	if isCompound(b) {
		return false
	}
	return LooseEqual(String(a), b)
}

func apply(left any, op string, right any) any {
	switch op {
	case "==":
		return LooseEqual(left, right)
	case "!=":
		return !LooseEqual(left, right)
	case "&&":
		return Truthy(left) && Truthy(right)
	case "||":
		return Truthy(left) || Truthy(right)
	}
	return relational(left, op, right)
}

func relational(left any, op string, right any) bool {
	l, r := primitive(left), primitive(right)
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			switch op {
			case ">":
				return ls > rs
			case ">=":
				return ls >= rs
			case "<":
				return ls < rs
			case "<=":
				return ls <= rs
			}
			return false
		}
	}

	x, y := toNumber(l), toNumber(r)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch op {
	case ">":
		return x > y
	case ">=":
		return x >= y
	case "<":
		return x < y
	case "<=":
		return x <= y
	}
	return false
}

func primitive(v any) any {
	v = normalize(v)
	if isCompound(v) {
		return String(v)
	}
	return v
}

func toNumber(v any) float64 {
	switch x := normalize(v).(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case string:
		s := strings.TrimSpace(x)
		switch s {
		case "":
			return 0
		case "Infinity", "+Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		if n, ok := ParseNumber(s); ok {
			return n
		}
		return math.NaN()
	}
	return toNumber(String(v))
}

// normalize maps every numeric Go type to float64.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return v
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

func isCompound(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}
