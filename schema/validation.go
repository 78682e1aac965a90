package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
)

const (
	typeObject  = "object"
	typeArray   = "array"
	typeString  = "string"
	typeInteger = "integer"
	typeNumber  = "number"
	typeBoolean = "boolean"
	typeNull    = "null"
)

// Violation is one place where params do not match a schema.
//
// Expected and Actual are JSON type names and are set only for type
// mismatches; other problems are described by Problem alone.
type Violation struct {
	Path     string
	Problem  string
	Expected string
	Actual   string
}

func (v *Violation) Error() string {
	msg := v.Problem
	if v.Expected != "" {
		msg = fmt.Sprintf("expected %s, got %s", v.Expected, v.Actual)
	}
	if v.Path == "" {
		return msg
	}
	return v.Path + ": " + msg
}

// Violations collects every mismatch found in one pass, in property order.
type Violations []*Violation

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateParams checks raw JSON-RPC params against s. Positional params
// are named by Order before checking; absent params count as an empty
// object. It returns nil when params match.
func (s *Schema) ValidateParams(params json.RawMessage) Violations {
	var value any
	if len(params) == 0 {
		value = map[string]any{}
	} else if err := jsoncodec.Unmarshal(params, &value); err != nil {
		return Violations{{Problem: "invalid JSON: " + err.Error()}}
	}

	if list, ok := value.([]any); ok && s.Type == typeObject {
		if len(list) > len(s.Order) {
			return Violations{{Problem: fmt.Sprintf("takes at most %d positional params, got %d", len(s.Order), len(list))}}
		}
		named := make(map[string]any, len(list))
		for i, v := range list {
			named[s.Order[i]] = v
		}
		value = named
	}
	return s.Check(value)
}

// Check validates a decoded JSON value against s.
func (s *Schema) Check(value any) Violations {
	var vs Violations
	s.check("", value, &vs)
	return vs
}

func (s *Schema) check(path string, value any, vs *Violations) {
	// null satisfies any schema; presence is enforced through Required
	if value == nil || s.Type == "" {
		return
	}

	actual := typeOf(value)
	if !s.accepts(actual, value) {
		*vs = append(*vs, &Violation{Path: path, Expected: s.Type, Actual: actual})
		return
	}

	switch s.Type {
	case typeObject:
		s.checkObject(path, value.(map[string]any), vs)
	case typeArray:
		if s.Items != nil {
			for i, item := range value.([]any) {
				s.Items.check(fmt.Sprintf("%s[%d]", path, i), item, vs)
			}
		}
	case typeInteger, typeNumber:
		s.checkRange(path, value.(float64), vs)
	}
	s.checkEnum(path, value, vs)
}

func (s *Schema) accepts(actual string, value any) bool {
	switch s.Type {
	case typeInteger:
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case typeNumber:
		return actual == typeNumber
	default:
		return actual == s.Type
	}
}

func (s *Schema) checkObject(path string, obj map[string]any, vs *Violations) {
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := s.Order
	if len(names) == 0 {
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		prop := s.Properties[name]
		val, present := obj[name]
		switch {
		case !present && required[name]:
			*vs = append(*vs, &Violation{Path: joinPath(path, name), Problem: "required"})
		case present && prop != nil:
			prop.check(joinPath(path, name), val, vs)
		}
	}
}

func (s *Schema) checkRange(path string, num float64, vs *Violations) {
	if s.Minimum != nil && num < *s.Minimum {
		*vs = append(*vs, &Violation{Path: path, Problem: fmt.Sprintf("%v is below minimum %v", num, *s.Minimum)})
	}
	if s.Maximum != nil && num > *s.Maximum {
		*vs = append(*vs, &Violation{Path: path, Problem: fmt.Sprintf("%v is above maximum %v", num, *s.Maximum)})
	}
}

func (s *Schema) checkEnum(path string, value any, vs *Violations) {
	if len(s.Enum) == 0 {
		return
	}
	for _, allowed := range s.Enum {
		if fmt.Sprint(allowed) == fmt.Sprint(value) {
			return
		}
	}
	*vs = append(*vs, &Violation{Path: path, Problem: fmt.Sprintf("%v is not one of %v", value, s.Enum)})
}

// typeOf names the JSON type of a value decoded into any.
func typeOf(value any) string {
	switch value.(type) {
	case nil:
		return typeNull
	case bool:
		return typeBoolean
	case float64:
		return typeNumber
	case string:
		return typeString
	case []any:
		return typeArray
	case map[string]any:
		return typeObject
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
