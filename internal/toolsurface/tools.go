package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus-prp/runtime/internal/agent"
)

// WorkspaceCreateTool implements agent.Tool for workspace_create.
type WorkspaceCreateTool struct{ Backend Backend }

func (t *WorkspaceCreateTool) Name() string { return "workspace_create" }
func (t *WorkspaceCreateTool) Description() string {
	return "Provisions a sandboxed workspace (container + volume) for running commands and exchanging files."
}
func (t *WorkspaceCreateTool) Schema() json.RawMessage { return json.RawMessage(createSchemaJSON) }

func (t *WorkspaceCreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req CreateRequest
	if err := validate("workspace_create", createSchemaJSON, params, &req); err != nil {
		return errorResult(CreateResult{}, err)
	}
	ws, err := t.Backend.Create(ctx, req)
	if err != nil {
		return jsonResult(CreateResult{Success: false, Error: err.Error()})
	}
	return jsonResult(CreateResult{Success: true, Workspace: ws})
}

// WorkspaceExecTool implements agent.Tool for workspace_exec.
type WorkspaceExecTool struct{ Backend Backend }

func (t *WorkspaceExecTool) Name() string { return "workspace_exec" }
func (t *WorkspaceExecTool) Description() string {
	return "Runs a command inside a previously created workspace and returns stdout/stderr/returncode."
}
func (t *WorkspaceExecTool) Schema() json.RawMessage { return json.RawMessage(execSchemaJSON) }

func (t *WorkspaceExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req ExecRequest
	if err := validate("workspace_exec", execSchemaJSON, params, &req); err != nil {
		return errorResult(ExecResult{}, err)
	}
	cmd, err := t.Backend.Exec(ctx, req)
	if err != nil {
		return jsonResult(ExecResult{Success: false, Error: err.Error()})
	}
	return jsonResult(ExecResult{Success: true, WorkspaceCommand: cmd})
}

// WorkspaceCopyToTool implements agent.Tool for workspace_copy_to.
type WorkspaceCopyToTool struct{ Backend Backend }

func (t *WorkspaceCopyToTool) Name() string { return "workspace_copy_to" }
func (t *WorkspaceCopyToTool) Description() string {
	return "Copies a file from the host into a workspace."
}
func (t *WorkspaceCopyToTool) Schema() json.RawMessage { return json.RawMessage(copySchemaJSON) }

func (t *WorkspaceCopyToTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req CopyRequest
	if err := validate("workspace_copy_to", copySchemaJSON, params, &req); err != nil {
		return errorResult(CopyResult{}, err)
	}
	detail, err := t.Backend.CopyTo(ctx, req)
	if err != nil {
		return jsonResult(CopyResult{Success: false, Error: err.Error()})
	}
	return jsonResult(CopyResult{Success: true, WorkspaceCopy: detail})
}

// WorkspaceCopyFromTool implements agent.Tool for workspace_copy_from.
type WorkspaceCopyFromTool struct{ Backend Backend }

func (t *WorkspaceCopyFromTool) Name() string { return "workspace_copy_from" }
func (t *WorkspaceCopyFromTool) Description() string {
	return "Copies a file out of a workspace onto the host."
}
func (t *WorkspaceCopyFromTool) Schema() json.RawMessage { return json.RawMessage(copySchemaJSON) }

func (t *WorkspaceCopyFromTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req CopyRequest
	if err := validate("workspace_copy_from", copySchemaJSON, params, &req); err != nil {
		return errorResult(CopyResult{}, err)
	}
	detail, err := t.Backend.CopyFrom(ctx, req)
	if err != nil {
		return jsonResult(CopyResult{Success: false, Error: err.Error()})
	}
	return jsonResult(CopyResult{Success: true, WorkspaceCopy: detail})
}

// WorkspaceDestroyTool implements agent.Tool for workspace_destroy.
type WorkspaceDestroyTool struct{ Backend Backend }

func (t *WorkspaceDestroyTool) Name() string { return "workspace_destroy" }
func (t *WorkspaceDestroyTool) Description() string {
	return "Tears down a workspace's container, optionally deleting its volume."
}
func (t *WorkspaceDestroyTool) Schema() json.RawMessage { return json.RawMessage(destroySchemaJSON) }

func (t *WorkspaceDestroyTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req DestroyRequest
	if err := validate("workspace_destroy", destroySchemaJSON, params, &req); err != nil {
		return errorResult(DestroyResult{}, err)
	}
	if err := t.Backend.Destroy(ctx, req.WorkspaceID, req.DeleteVolume); err != nil {
		return jsonResult(DestroyResult{Success: false, Error: err.Error()})
	}
	return jsonResult(DestroyResult{Success: true})
}

// Tools returns all five workspace tools bound to backend, ready for
// registration with agent.ToolRegistry.
func Tools(backend Backend) []agent.Tool {
	return []agent.Tool{
		&WorkspaceCreateTool{Backend: backend},
		&WorkspaceExecTool{Backend: backend},
		&WorkspaceCopyToTool{Backend: backend},
		&WorkspaceCopyFromTool{Backend: backend},
		&WorkspaceDestroyTool{Backend: backend},
	}
}

func jsonResult(v any) (*agent.ToolResult, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: marshal result: %w", err)
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

// errorResult builds a schema-validation-failure result: the core never
// fails the tool call outright (spec §1 Non-goals' "opaque ... returning
// structured results"), it reports failure through the same envelope shape
// the caller already expects.
func errorResult(shape any, err error) (*agent.ToolResult, error) {
	encoded, marshalErr := json.Marshal(shape)
	if marshalErr != nil {
		return nil, marshalErr
	}
	var withError map[string]any
	if jsonErr := json.Unmarshal(encoded, &withError); jsonErr != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	withError["success"] = false
	withError["error"] = err.Error()
	final, marshalErr := json.Marshal(withError)
	if marshalErr != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(final)}, nil
}
