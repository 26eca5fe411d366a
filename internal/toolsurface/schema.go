package toolsurface

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each workspace payload schema once, grounded on
// pluginsdk.compileSchema's sync.Map cache (here keyed by a fixed set of
// names rather than arbitrary manifest bytes).
var schemaCache sync.Map

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", raw)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(name, compiled)
	return compiled, nil
}

const createSchemaJSON = `{
	"type": "object",
	"properties": {
		"workspace_id": {"type": "string", "minLength": 1},
		"image": {"type": "string"}
	},
	"required": ["workspace_id"]
}`

const execSchemaJSON = `{
	"type": "object",
	"properties": {
		"workspace_id": {"type": "string", "minLength": 1},
		"command": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"working_dir": {"type": "string"},
		"env": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["workspace_id", "command"]
}`

const copySchemaJSON = `{
	"type": "object",
	"properties": {
		"workspace_id": {"type": "string", "minLength": 1},
		"source": {"type": "string", "minLength": 1},
		"destination": {"type": "string", "minLength": 1}
	},
	"required": ["workspace_id", "source", "destination"]
}`

const destroySchemaJSON = `{
	"type": "object",
	"properties": {
		"workspace_id": {"type": "string", "minLength": 1},
		"delete_volume": {"type": "boolean"}
	},
	"required": ["workspace_id"]
}`

// validate decodes raw, validates it against the named schema, then
// decodes it into out.
func validate(name, raw string, params json.RawMessage, out any) error {
	schema, err := compileSchema(name, raw)
	if err != nil {
		return fmt.Errorf("toolsurface: compile %s schema: %w", name, err)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("toolsurface: invalid json for %s: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolsurface: %s schema_error: %w", name, err)
	}
	return json.Unmarshal(params, out)
}
