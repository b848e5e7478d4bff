// Package tools implements the statically registered Tool Registry: schema
// declaration, access-level and Rule 700 enforcement, result scrubbing, and
// OpenAI-compatible function-calling schema emission.
package tools

import "encoding/json"

// JSONSchema is a (deliberately small) JSON Schema subset sufficient to
// describe tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
}

// MarshalJSON ensures object schemas always emit "properties": {} rather
// than omitting it — several strict backends (Bedrock Claude among them)
// reject an object schema with no properties key at all.
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type alias JSONSchema
	if s.Type == "object" && s.Properties == nil {
		cp := *s
		cp.Properties = make(map[string]*JSONSchema)
		return json.Marshal((*alias)(&cp))
	}
	return json.Marshal((*alias)(s))
}

// NormalizeSchema recursively fills in missing "object"/"array" structure so
// a hand-written schema survives strict validators. Grounded on the
// teacher's shuttle.NormalizeSchema.
func NormalizeSchema(schema *JSONSchema) *JSONSchema {
	if schema == nil {
		return nil
	}
	if schema.Type == "object" {
		if schema.Properties == nil {
			schema.Properties = make(map[string]*JSONSchema)
		}
		for k, prop := range schema.Properties {
			schema.Properties[k] = NormalizeSchema(prop)
		}
	}
	if schema.Type == "array" && schema.Items != nil {
		schema.Items = NormalizeSchema(schema.Items)
	}
	if schema.Type == "" {
		switch {
		case schema.Properties != nil:
			schema.Type = "object"
		case schema.Items != nil:
			schema.Type = "array"
		case len(schema.Enum) > 0:
			schema.Type = "string"
		}
	}
	return schema
}

// FunctionSchema is the OpenAI/Anthropic-compatible function-calling shape
// emitted by ToOpenAISchema.
type FunctionSchema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the inner {name, description, parameters} body.
type FunctionSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
}

// Valid reports whether a schema is well-formed: type=function, non-empty
// function name, parameters.type=="object", a non-nil properties map, and
// no empty/invalid property types. This is the Go analogue of the Python
// original's defense against "type=None" API-400s.
func (f FunctionSchema) Valid() bool {
	if f.Type != "function" {
		return false
	}
	if f.Function.Name == "" {
		return false
	}
	if f.Function.Parameters == nil || f.Function.Parameters.Type != "object" {
		return false
	}
	if f.Function.Parameters.Properties == nil {
		return false
	}
	for _, prop := range f.Function.Parameters.Properties {
		if prop == nil || prop.Type == "" {
			return false
		}
	}
	return true
}
