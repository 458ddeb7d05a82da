package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// paramSpec is a tool's compiled parameter contract. Built at
// registration so schema errors fail startup, not the first call.
type paramSpec struct {
	compiled   *jsonschema.Schema
	properties map[string]paramInfo
	required   []string
}

// paramInfo is the prompt-facing view of one schema property.
type paramInfo struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

func newParamSpec(toolName string, raw json.RawMessage) (*paramSpec, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := compileSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", toolName, err)
	}
	var doc struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", toolName, err)
	}
	spec := &paramSpec{
		compiled:   compiled,
		properties: make(map[string]paramInfo, len(doc.Properties)),
		required:   doc.Required,
	}
	requiredSet := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		requiredSet[name] = true
	}
	for name, prop := range doc.Properties {
		spec.properties[name] = paramInfo{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    requiredSet[name],
		}
	}
	return spec, nil
}

// describeParams lists properties for prompt rendering: required
// parameters in schema order, the rest alphabetical.
func (s *paramSpec) describeParams() []paramInfo {
	out := make([]paramInfo, 0, len(s.properties))
	for _, name := range s.required {
		if info, ok := s.properties[name]; ok {
			out = append(out, info)
		}
	}
	var optional []string
	for name, info := range s.properties {
		if !info.Required {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		out = append(out, s.properties[name])
	}
	return out
}

// validate rejects unknown parameter names and missing required
// fields, then applies the compiled schema. Params are round-tripped
// through JSON so the schema sees canonical decoded values.
func (s *paramSpec) validate(params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}

	// A schema without declared properties accepts any names.
	if len(s.properties) > 0 {
		var unknown []string
		for name := range params {
			if _, ok := s.properties[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return fmt.Errorf("unknown parameters: %s", strings.Join(unknown, ", "))
		}
	}

	for _, name := range s.required {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("missing required parameter: %s", name)
		}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if len(payload) > MaxToolParamsSize {
		return fmt.Errorf("parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	if err := s.compiled.Validate(decoded); err != nil {
		return fmt.Errorf("parameters invalid: %w", err)
	}
	return nil
}

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
