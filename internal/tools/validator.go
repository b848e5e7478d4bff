package tools

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArguments checks a tool call's arguments against its declared
// parameter schema, surfacing every violation gojsonschema reports rather
// than stopping at the first.
func ValidateArguments(schema *JSONSchema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(NormalizeSchema(schema))
	argsLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, argsLoader)
	if err != nil {
		return fmt.Errorf("validate tool arguments: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid tool arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}
