package backend

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor returns the JSON schema of T, inlined without $ref definitions.
func SchemaFor[T any]() (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := r.Reflect(&zero)

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %w", ErrSchema, zero, err)
	}
	return b, nil
}
