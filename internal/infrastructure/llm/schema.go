package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var suggestionSchemaJSON = `{
  "type": "object",
  "required": ["container_selector", "field_selectors"],
  "properties": {
    "container_selector": {"type": "string", "minLength": 1},
    "field_selectors": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string", "minLength": 1}
    },
    "explanation": {"type": "string"}
  }
}`

var (
	suggestionSchemaOnce sync.Once
	suggestionSchema     *jsonschema.Schema
	suggestionSchemaErr  error
)

func validateSuggestion(data []byte) error {
	suggestionSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("suggestion.json", bytes.NewReader([]byte(suggestionSchemaJSON))); err != nil {
			suggestionSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		suggestionSchema, suggestionSchemaErr = compiler.Compile("suggestion.json")
	})
	if suggestionSchemaErr != nil {
		return fmt.Errorf("compile schema: %w", suggestionSchemaErr)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	if err := suggestionSchema.Validate(v); err != nil {
		return fmt.Errorf("reply does not match schema: %w", err)
	}
	return nil
}
