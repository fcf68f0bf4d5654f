package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"genrelay/internal/domain"
)

const schemaResource = "request-schema.json"

// compileSchema compiles a request's output schema. A schema that does not
// compile is the caller's mistake.
func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", domain.ErrInvalidInput, err)
	}
	compiled, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %v", domain.ErrInvalidInput, err)
	}
	return compiled, nil
}

// checkStructured verifies a structured response is JSON and, when a schema
// was given, that it conforms. Failures are ErrInvalidOutput so the adapter
// gets another try.
func checkStructured(content string, schema *jsonschema.Schema) error {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("%w: response is not JSON: %v", domain.ErrInvalidOutput, err)
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: response does not match schema: %v", domain.ErrInvalidOutput, err)
	}
	return nil
}
