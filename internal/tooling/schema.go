package tooling

import (
	"encoding/json"
	"fmt"
	"strings"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"backlogagent/internal/domain"
)

var validTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// marshalFunc is the JSON marshaler used by BuildSchema. Package-level so
// tests can inject a failing marshaler.
var marshalFunc = json.Marshal

// CompiledSchema keeps the schema text shown to the engine next to the
// validator compiled from it, so both always agree. Compile once per tool and
// reuse it for every call.
type CompiledSchema struct {
	source   []byte
	required []string
	schema   *jsonschema.Schema
}

// BuildSchema renders a ToolSpec's ordered params as a JSON Schema object.
// Properties keep declaration order; unknown properties are rejected.
func BuildSchema(spec domain.ToolSpec) *invopopSchema.Schema {
	props := invopopSchema.NewProperties()
	var required []string
	for _, p := range spec.Params {
		props.Set(p.Name, &invopopSchema.Schema{
			Type:        p.Type,
			Description: p.Hint,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &invopopSchema.Schema{
		Type:                 "object",
		Description:          spec.Description,
		Properties:           props,
		Required:             required,
		AdditionalProperties: invopopSchema.FalseSchema,
	}
}

// CompileSchema builds and compiles the argument schema of spec.
func CompileSchema(spec domain.ToolSpec) (*CompiledSchema, error) {
	s := BuildSchema(spec)
	src, err := marshalFunc(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := jsonschema.CompileString(spec.Name+".json", string(src))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &CompiledSchema{source: src, required: s.Required, schema: compiled}, nil
}

// Source returns a copy of the schema text.
func (c *CompiledSchema) Source() json.RawMessage {
	return append(json.RawMessage(nil), c.source...)
}

// Validate checks required-field presence first, so the common
// hallucination (a missing argument) gets a plain message, then runs the full
// schema for types and unexpected fields.
func (c *CompiledSchema) Validate(args map[string]any) error {
	var missing []string
	for _, name := range c.required {
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}

	// Round-trip through JSON so the validator sees plain JSON values
	// (float64, []any, map[string]any) whatever the engine decoded into.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not JSON-encodable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
