package config

import (
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// tagName returns the key name of field under tag, or "" when the field is
// skipped.
func tagName(field reflect.StructField, tag string) string {
	name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return strings.ToLower(field.Name)
	}
	return name
}

// toYAMLNode builds a YAML document from v following yaml tags. Unlike
// yaml.Marshal it renders time.Duration as "1m30s" instead of nanoseconds,
// which the loader reads back through durationDecodeHook.
func toYAMLNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: time.Duration(v.Int()).String(),
		}, nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return toYAMLNode(v.Elem())

	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := range t.NumField() {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := tagName(field, "yaml")
			if name == "" {
				continue
			}
			fv := v.Field(i)
			if strings.Contains(field.Tag.Get("yaml"), ",omitempty") && fv.IsZero() {
				continue
			}
			child, err := toYAMLNode(fv)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: name},
				child)
		}
		return node, nil

	default:
		var node yaml.Node
		if err := node.Encode(v.Interface()); err != nil {
			return nil, err
		}
		return &node, nil
	}
}
