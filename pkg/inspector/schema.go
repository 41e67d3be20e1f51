// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package inspector

import "fmt"

// ObjectSchema describes an inferred data shape. It is a variant over
// object (named properties plus required list), array (single item schema),
// and scalar (type tag only).
type ObjectSchema struct {
	SchemaType     string                    `json:"schema_type"`
	Properties     map[string]SchemaProperty `json:"properties,omitempty"`
	Required       []string                  `json:"required,omitempty"`
	ArrayItems     *ObjectSchema             `json:"array_items,omitempty"`
	ObjectPatterns []string                  `json:"object_patterns,omitempty"`
}

// SchemaProperty is one named slot in an object schema. Object and array
// values carry their shape in NestedSchema.
type SchemaProperty struct {
	DataType     string        `json:"data_type"`
	Description  string        `json:"description,omitempty"`
	Pattern      string        `json:"pattern,omitempty"`
	Minimum      *float64      `json:"minimum,omitempty"`
	Maximum      *float64      `json:"maximum,omitempty"`
	EnumValues   []interface{} `json:"enum_values,omitempty"`
	NestedSchema *ObjectSchema `json:"nested_schema,omitempty"`
}

// ComplexityScore ranks competing parses of the same input. Richer schemas
// win: properties weigh 10, required entries 5, pattern tags 3.
func (s *ObjectSchema) ComplexityScore() int {
	if s == nil {
		return 0
	}
	return len(s.Properties)*10 + len(s.Required)*5 + len(s.ObjectPatterns)*3
}

// ValidationRules derives named validation rules from the schema's
// constrained properties.
func (s *ObjectSchema) ValidationRules() []string {
	if s == nil {
		return nil
	}
	var rules []string
	for name, prop := range s.Properties {
		switch prop.DataType {
		case "string":
			if prop.Pattern != "" {
				rules = append(rules, name+"_format")
			}
		case "number":
			if prop.Minimum != nil {
				rules = append(rules, fmt.Sprintf("%s_min_%g", name, *prop.Minimum))
			}
			if prop.Maximum != nil {
				rules = append(rules, fmt.Sprintf("%s_max_%g", name, *prop.Maximum))
			}
		}
	}
	return rules
}

// analyzeValue infers a schema from decoded JSON/YAML data.
func analyzeValue(v interface{}) *ObjectSchema {
	switch val := v.(type) {
	case map[string]interface{}:
		schema := &ObjectSchema{
			SchemaType: "object",
			Properties: make(map[string]SchemaProperty, len(val)),
		}
		for key, item := range val {
			schema.Properties[key] = analyzeProperty(item)
			schema.Required = append(schema.Required, key)
		}
		return schema
	case []interface{}:
		schema := &ObjectSchema{SchemaType: "array"}
		if len(val) > 0 {
			schema.ArrayItems = analyzeValue(val[0])
		}
		return schema
	default:
		return &ObjectSchema{SchemaType: valueType(v)}
	}
}

func analyzeProperty(v interface{}) SchemaProperty {
	prop := SchemaProperty{DataType: valueType(v)}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		prop.NestedSchema = analyzeValue(v)
	}
	return prop
}

func valueType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
