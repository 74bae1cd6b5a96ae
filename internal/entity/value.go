package entity

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ValueKind discriminates the variants of Value.
type ValueKind string

const (
	// KindNone is the zero kind, used for "no previous value" in
	// registration events.
	KindNone ValueKind = ""

	// KindBool is a boolean value (switch state, contact sensor).
	KindBool ValueKind = "bool"

	// KindNumber is a numeric value (temperature, brightness, power).
	KindNumber ValueKind = "number"

	// KindEnum is one of a declared set of strings (hvac mode, scene).
	KindEnum ValueKind = "enum"

	// KindAttrs is a structured attribute mapping (colour, multi-field
	// sensor payloads).
	KindAttrs ValueKind = "attrs"
)

// Value is the tagged union an entity's current state is expressed in.
// Exactly one variant field is meaningful, selected by Kind. Values are
// treated as immutable once applied; Attrs maps are deep-copied at every
// boundary crossing.
type Value struct {
	Kind   ValueKind      `json:"kind"`
	Bool   bool           `json:"bool,omitempty"`
	Number float64        `json:"number,omitempty"`
	Enum   string         `json:"enum,omitempty"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// NumberValue constructs a numeric Value.
func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// EnumValue constructs an enumerated string Value.
func EnumValue(s string) Value {
	return Value{Kind: KindEnum, Enum: s}
}

// AttrsValue constructs a structured attribute Value.
// The map is deep-copied so the caller retains ownership of its input.
func AttrsValue(attrs map[string]any) Value {
	return Value{Kind: KindAttrs, Attrs: deepCopyAttrs(attrs)}
}

// IsZero reports whether the Value carries no variant (KindNone).
func (v Value) IsZero() bool {
	return v.Kind == KindNone
}

// Equal reports whether two Values are the same variant with the same
// payload. Attrs variants compare by deep equality.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Number == other.Number
	case KindEnum:
		return v.Enum == other.Enum
	case KindAttrs:
		return reflect.DeepEqual(v.Attrs, other.Attrs)
	case KindNone:
		return true
	default:
		return false
	}
}

// DeepCopy returns an independent copy of the Value. Only Attrs variants
// carry reference types; the other variants copy by value.
func (v Value) DeepCopy() Value {
	if v.Kind != KindAttrs {
		return v
	}
	return Value{Kind: KindAttrs, Attrs: deepCopyAttrs(v.Attrs)}
}

// String renders the value payload for logs and error messages.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindEnum:
		return v.Enum
	case KindAttrs:
		data, err := json.Marshal(v.Attrs)
		if err != nil {
			return "attrs{}"
		}
		return string(data)
	case KindNone:
		return "<none>"
	default:
		return "<invalid>"
	}
}

// deepCopyAttrs copies an attribute map one level of nesting at a time.
// Nested maps and slices are copied recursively; scalar leaves copy by value.
func deepCopyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, val := range attrs {
		out[k] = deepCopyAny(val)
	}
	return out
}

func deepCopyAny(val any) any {
	switch typed := val.(type) {
	case map[string]any:
		return deepCopyAttrs(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopyAny(item)
		}
		return out
	default:
		return typed
	}
}

// ValueSpec declares the domain of values an entity accepts. The Registry
// validates every update against the owning entity's spec before applying.
type ValueSpec struct {
	Kind ValueKind `json:"kind" yaml:"kind"`

	// Min and Max bound KindNumber values when set.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// EnumValues lists the admissible KindEnum payloads.
	EnumValues []string `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
}

// Validate checks a candidate value against the spec.
// Returns ErrValidation (wrapped with detail) on any mismatch.
func (s ValueSpec) Validate(v Value) error {
	if v.Kind != s.Kind {
		return fmt.Errorf("%w: expected %s value, got %s", ErrValidation, s.Kind, v.Kind)
	}

	switch v.Kind {
	case KindNumber:
		if s.Min != nil && v.Number < *s.Min {
			return fmt.Errorf("%w: %g below minimum %g", ErrValidation, v.Number, *s.Min)
		}
		if s.Max != nil && v.Number > *s.Max {
			return fmt.Errorf("%w: %g above maximum %g", ErrValidation, v.Number, *s.Max)
		}
	case KindEnum:
		if len(s.EnumValues) > 0 {
			for _, allowed := range s.EnumValues {
				if v.Enum == allowed {
					return nil
				}
			}
			return fmt.Errorf("%w: %q not in enum set %v", ErrValidation, v.Enum, s.EnumValues)
		}
	}

	return nil
}

// DeepCopy returns an independent copy of the spec.
func (s ValueSpec) DeepCopy() ValueSpec {
	out := s
	if s.Min != nil {
		m := *s.Min
		out.Min = &m
	}
	if s.Max != nil {
		m := *s.Max
		out.Max = &m
	}
	if s.EnumValues != nil {
		out.EnumValues = make([]string, len(s.EnumValues))
		copy(out.EnumValues, s.EnumValues)
	}
	return out
}
