package skill

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
)

// ValidateParams checks params against the descriptor's parameter
// specification. Every required parameter must be present and every
// declared parameter that is present must have its declared type.
// Undeclared parameters pass through untouched.
func ValidateParams(d Descriptor, params Params) error {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := d.Parameters[name]
		v, ok := params[name]
		if !ok || v == nil {
			if spec.Required {
				return &ValidationError{Skill: d.Name, Param: name, Reason: "missing required parameter"}
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			return &ValidationError{
				Skill:  d.Name,
				Param:  name,
				Reason: "expected " + string(spec.Type) + ", got " + describeType(v),
			}
		}
	}
	return nil
}

func typeMatches(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		if n, ok := v.(json.Number); ok {
			_, err := n.Float64()
			return err == nil
		}
		return isNumericKind(reflect.TypeOf(v).Kind())
	case TypeInteger:
		switch n := v.(type) {
		case json.Number:
			_, err := n.Int64()
			return err == nil
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		case float32:
			return float64(n) == math.Trunc(float64(n))
		}
		return isIntegerKind(reflect.TypeOf(v).Kind())
	case TypeObject:
		return reflect.TypeOf(v).Kind() == reflect.Map
	case TypeArray:
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return false
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumericKind(k reflect.Kind) bool {
	return isIntegerKind(k) || k == reflect.Float32 || k == reflect.Float64
}

func describeType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if isNumericKind(reflect.TypeOf(v).Kind()) {
		return "number"
	}
	return reflect.TypeOf(v).String()
}
