package vision

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mushrhyme/rebate/constants"
)

// BuildPageJSONSchema returns the JSON-Schema for one page result as a
// generic map. We send it to the model as a structured-output constraint and
// also validate responses against it locally.
func BuildPageJSONSchema() map[string]any {
	itemProps := map[string]any{
		"management_id":  map[string]any{"type": "string"},
		"customer":       map[string]any{"type": "string"},
		"product_name":   map[string]any{"type": "string"},
		"quantity":       map[string]any{"type": "string"},
		"case_count":     map[string]any{"type": "string"},
		"bara_count":     map[string]any{"type": "string"},
		"units_per_case": map[string]any{"type": "string"},
		"amount":         map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"page_role": map[string]any{
				"type": "string",
				"enum": constants.PageRoles(),
			},
			"issuer":         map[string]any{"type": "string"},
			"issue_date":     map[string]any{"type": "string"},
			"billing_period": map[string]any{"type": "string"},
			"customer":       map[string]any{"type": "string"},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           itemProps,
					"required":             []string{"management_id", "product_name"},
				},
			},
		},
		"required": []string{"items"},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
