package drafts

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TitlesSchema is the JSON schema for title suggestions.
var TitlesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"titles": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
	},
	"required": []string{"titles"},
}

// PremiseSchema is the JSON schema for a premise.
var PremiseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"premise": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
	},
	"required": []string{"premise"},
}

// ScriptSchema is the JSON schema for a chaptered script.
var ScriptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"chapters": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"content": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []string{"content"},
			},
		},
	},
	"required": []string{"chapters"},
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s schema: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load %s schema: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
	}
	return compiled, nil
}

// validate checks raw JSON against schema and decodes it into out.
func validate(schema *jsonschema.Schema, raw []byte, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
