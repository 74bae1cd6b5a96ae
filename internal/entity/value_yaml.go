package entity

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a Value from rule-definition YAML. Scalars are
// inferred by type, so rule authors write:
//
//	value: true          # bool
//	value: 22.5          # number
//	value: "heat"        # enum
//	value: {r: 255}      # attrs
//
// An explicit mapping with a "kind" key is also accepted for
// disambiguation (e.g. an enum whose payload looks like a number).
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return v.unmarshalScalar(node)
	case yaml.MappingNode:
		return v.unmarshalMapping(node)
	default:
		return fmt.Errorf("%w: unsupported YAML node for value", ErrValidation)
	}
}

func (v *Value) unmarshalScalar(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil && node.Tag == "!!bool" {
		*v = BoolValue(b)
		return nil
	}

	var n float64
	if err := node.Decode(&n); err == nil && (node.Tag == "!!int" || node.Tag == "!!float") {
		*v = NumberValue(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err == nil {
		*v = EnumValue(s)
		return nil
	}

	return fmt.Errorf("%w: cannot decode YAML scalar %q as value", ErrValidation, node.Value)
}

func (v *Value) unmarshalMapping(node *yaml.Node) error {
	// Explicit form: {kind: enum, enum: "heat"}
	var explicit struct {
		Kind   ValueKind      `yaml:"kind"`
		Bool   bool           `yaml:"bool"`
		Number float64        `yaml:"number"`
		Enum   string         `yaml:"enum"`
		Attrs  map[string]any `yaml:"attrs"`
	}
	if err := node.Decode(&explicit); err == nil && explicit.Kind != KindNone {
		switch explicit.Kind {
		case KindBool:
			*v = BoolValue(explicit.Bool)
		case KindNumber:
			*v = NumberValue(explicit.Number)
		case KindEnum:
			*v = EnumValue(explicit.Enum)
		case KindAttrs:
			*v = AttrsValue(explicit.Attrs)
		default:
			return fmt.Errorf("%w: unknown value kind %q", ErrValidation, explicit.Kind)
		}
		return nil
	}

	// Bare mapping: structured attributes.
	var attrs map[string]any
	if err := node.Decode(&attrs); err != nil {
		return fmt.Errorf("%w: decoding attrs value: %v", ErrValidation, err)
	}
	*v = AttrsValue(attrs)
	return nil
}

// MarshalYAML renders the Value in its compact scalar form where
// possible.
func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindNumber:
		return v.Number, nil
	case KindEnum:
		return v.Enum, nil
	case KindAttrs:
		return v.Attrs, nil
	case KindNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %q", ErrValidation, v.Kind)
	}
}
