package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a capability the model can invoke by name. Schema returns the
// JSON-Schema parameters object advertised to the provider. Invoke interprets
// the raw JSON arguments itself; the orchestrator never looks inside them.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// GenerateSchema reflects the parameters schema for a tool input struct.
// Descriptions come from jsonschema_description field tags. Panics when the
// reflected schema does not survive the JSON round trip; a tool must never
// register with a partial schema.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(&v))
	if err != nil {
		panic(fmt.Sprintf("tools: marshaling schema for %T: %v", v, err))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("tools: unmarshaling schema for %T: %v", v, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}
