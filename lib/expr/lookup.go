package expr

import (
	"reflect"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path against state.
//
// A path that is itself a number literal resolves to that number as a
// float64 without consulting state. Otherwise each segment selects a key
// of a map with string keys or an exported field of a struct (matched by
// its json tag first, then by name). Numeric segments are ordinary keys;
// slices cannot be indexed. Lookup reports false as soon as a segment is
// missing or the current value cannot hold fields, including a nil value
// in the middle of the path.
func Lookup(path string, state any) (any, bool) {
	if n, ok := ParseNumber(path); ok {
		return n, true
	}
	if path == "" {
		return nil, false
	}

	current := state
	for _, segment := range strings.Split(path, ".") {
		next, ok := field(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// ParseNumber parses s as a decimal number literal.
func ParseNumber(s string) (float64, bool) {
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func field(v any, key string) (any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		x, ok := m[key]
		return x, ok
	case map[string]string:
		x, ok := m[key]
		return x, ok
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		x := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !x.IsValid() {
			return nil, false
		}
		return x.Interface(), true
	case reflect.Struct:
		return structField(rv, key)
	}
	return nil, false
}

func structField(rv reflect.Value, key string) (any, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == key || (name == "" && f.Name == key) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// Fields returns the keyed fields of a record value: a map with string
// keys or a struct (exported fields, named by json tag when present).
// It reports false for every other value.
func Fields(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		out := make(map[string]any)
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			switch name {
			case "-":
				continue
			case "":
				name = f.Name
			}
			out[name] = rv.Field(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// Items returns the elements of a slice or array value. It reports
// false for every other value, including nil.
func Items(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
