package supervisorgate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchemaJSON is the structural contract a supervisor envelope's
// message must satisfy (spec §4.5): {cycle_iteration:int≥0,
// exhaustion_mode:string, required_artifacts:[string], rationale:string}.
const payloadSchemaJSON = `{
	"type": "object",
	"properties": {
		"cycle_iteration": {"type": "integer", "minimum": 0},
		"exhaustion_mode": {"type": "string"},
		"required_artifacts": {"type": "array", "items": {"type": "string"}},
		"rationale": {"type": "string"}
	},
	"required": ["cycle_iteration", "exhaustion_mode", "required_artifacts", "rationale"]
}`

var (
	compileOnce     sync.Once
	compiledPayload *jsonschema.Schema
	compileErr      error
)

func payloadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledPayload, compileErr = jsonschema.CompileString("supervisor_payload.schema.json", payloadSchemaJSON)
	})
	return compiledPayload, compileErr
}

// SchemaError describes why a supervisor payload failed validation, used to
// build the feedback envelope sent back to the supervisor (spec §4.5 step
// 1: "on failure emits a feedback envelope ... describing schema_error").
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema_error: %s", e.Detail)
}

// ValidatePayload validates raw against the supervisor payload schema and,
// on success, decodes it into a Payload.
func ValidatePayload(raw json.RawMessage) (Payload, error) {
	schema, err := payloadSchema()
	if err != nil {
		return Payload{}, fmt.Errorf("supervisorgate: compile schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Payload{}, &SchemaError{Detail: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := schema.Validate(decoded); err != nil {
		return Payload{}, &SchemaError{Detail: err.Error()}
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, &SchemaError{Detail: fmt.Sprintf("decode payload: %v", err)}
	}
	return payload, nil
}

// Payload is the decoded, schema-valid supervisor message.
type Payload struct {
	CycleIteration    int      `json:"cycle_iteration"`
	ExhaustionMode    string   `json:"exhaustion_mode"`
	RequiredArtifacts []string `json:"required_artifacts"`
	Rationale         string   `json:"rationale"`
}
