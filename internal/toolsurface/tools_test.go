package toolsurface

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeBackend is an in-memory Backend double; DockerBackend needs a live
// daemon and can't be exercised without the toolchain.
type fakeBackend struct {
	createErr   error
	execErr     error
	copyToErr   error
	copyFromErr error
	destroyErr  error

	created   []CreateRequest
	execed    []ExecRequest
	destroyed []string
}

func (f *fakeBackend) Create(ctx context.Context, req CreateRequest) (Descriptor, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return Descriptor{}, f.createErr
	}
	image := req.Image
	if image == "" {
		image = "nexus-prp/sandbox:latest"
	}
	return Descriptor{
		WorkspaceID: req.WorkspaceID,
		Volume:      "nexus-ws-vol-" + req.WorkspaceID,
		Container:   "nexus-ws-" + req.WorkspaceID,
		MountPath:   "/workspace",
		Image:       image,
	}, nil
}

func (f *fakeBackend) Exec(ctx context.Context, req ExecRequest) (CommandResult, error) {
	f.execed = append(f.execed, req)
	if f.execErr != nil {
		return CommandResult{}, f.execErr
	}
	return CommandResult{Stdout: "ok", ReturnCode: 0}, nil
}

func (f *fakeBackend) CopyTo(ctx context.Context, req CopyRequest) (CopyDetail, error) {
	if f.copyToErr != nil {
		return CopyDetail{}, f.copyToErr
	}
	return CopyDetail{BytesTransferred: 42}, nil
}

func (f *fakeBackend) CopyFrom(ctx context.Context, req CopyRequest) (CopyDetail, error) {
	if f.copyFromErr != nil {
		return CopyDetail{}, f.copyFromErr
	}
	return CopyDetail{BytesTransferred: 7}, nil
}

func (f *fakeBackend) Destroy(ctx context.Context, workspaceID string, deleteVolume bool) error {
	f.destroyed = append(f.destroyed, workspaceID)
	return f.destroyErr
}

func TestWorkspaceCreateTool_Execute_ReturnsDescriptor(t *testing.T) {
	backend := &fakeBackend{}
	tool := &WorkspaceCreateTool{Backend: backend}

	params := json.RawMessage(`{"workspace_id": "chat-1"}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got IsError content=%s", result.Content)
	}

	var decoded CreateResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success {
		t.Fatalf("expected success=true")
	}
	if decoded.Workspace.WorkspaceID != "chat-1" {
		t.Fatalf("unexpected workspace id: %+v", decoded.Workspace)
	}
}

func TestWorkspaceCreateTool_Execute_SchemaErrorMissingWorkspaceID(t *testing.T) {
	tool := &WorkspaceCreateTool{Backend: &fakeBackend{}}
	params := json.RawMessage(`{}`)

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded["success"] != false {
		t.Fatalf("expected success=false for schema violation, got %+v", decoded)
	}
	if _, ok := decoded["error"]; !ok {
		t.Fatalf("expected error field in result")
	}
}

func TestWorkspaceCreateTool_Execute_BackendFailureSurfacesInResult(t *testing.T) {
	backend := &fakeBackend{createErr: errors.New("daemon unreachable")}
	tool := &WorkspaceCreateTool{Backend: backend}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"workspace_id": "chat-2"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var decoded CreateResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.Success {
		t.Fatalf("expected success=false")
	}
	if decoded.Error == "" {
		t.Fatalf("expected error message")
	}
}

func TestWorkspaceExecTool_Execute_RunsCommandAndReturnsOutput(t *testing.T) {
	backend := &fakeBackend{}
	tool := &WorkspaceExecTool{Backend: backend}

	params := json.RawMessage(`{"workspace_id": "chat-1", "command": ["echo", "hi"]}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var decoded ExecResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success || decoded.WorkspaceCommand.Stdout != "ok" {
		t.Fatalf("unexpected result: %+v", decoded)
	}
	if len(backend.execed) != 1 || backend.execed[0].WorkspaceID != "chat-1" {
		t.Fatalf("backend not invoked as expected: %+v", backend.execed)
	}
}

func TestWorkspaceExecTool_Execute_SchemaErrorMissingCommand(t *testing.T) {
	tool := &WorkspaceExecTool{Backend: &fakeBackend{}}
	params := json.RawMessage(`{"workspace_id": "chat-1"}`)

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded["success"] != false {
		t.Fatalf("expected schema validation failure, got %+v", decoded)
	}
}

func TestWorkspaceCopyToTool_Execute_ReturnsBytesTransferred(t *testing.T) {
	tool := &WorkspaceCopyToTool{Backend: &fakeBackend{}}
	params := json.RawMessage(`{"workspace_id": "chat-1", "source": "/host/a.txt", "destination": "/workspace/a.txt"}`)

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var decoded CopyResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success || decoded.WorkspaceCopy.BytesTransferred != 42 {
		t.Fatalf("unexpected result: %+v", decoded)
	}
}

func TestWorkspaceCopyFromTool_Execute_ReturnsBytesTransferred(t *testing.T) {
	tool := &WorkspaceCopyFromTool{Backend: &fakeBackend{}}
	params := json.RawMessage(`{"workspace_id": "chat-1", "source": "/workspace/a.txt", "destination": "/host/a.txt"}`)

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var decoded CopyResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success || decoded.WorkspaceCopy.BytesTransferred != 7 {
		t.Fatalf("unexpected result: %+v", decoded)
	}
}

func TestWorkspaceDestroyTool_Execute_InvokesBackendDestroy(t *testing.T) {
	backend := &fakeBackend{}
	tool := &WorkspaceDestroyTool{Backend: backend}

	params := json.RawMessage(`{"workspace_id": "chat-1", "delete_volume": true}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var decoded DestroyResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success {
		t.Fatalf("expected success=true, got %+v", decoded)
	}
	if len(backend.destroyed) != 1 || backend.destroyed[0] != "chat-1" {
		t.Fatalf("backend destroy not invoked as expected: %+v", backend.destroyed)
	}
}

func TestWorkspaceDestroyTool_Execute_BackendFailureSurfacesInResult(t *testing.T) {
	backend := &fakeBackend{destroyErr: errors.New("container gone")}
	tool := &WorkspaceDestroyTool{Backend: backend}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"workspace_id": "chat-1"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var decoded DestroyResult
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.Success {
		t.Fatalf("expected success=false")
	}
}

func TestTools_ReturnsAllFiveBoundToBackend(t *testing.T) {
	backend := &fakeBackend{}
	tools := Tools(backend)
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name()] = true
		if len(tool.Schema()) == 0 {
			t.Fatalf("tool %s has empty schema", tool.Name())
		}
	}
	for _, want := range []string{
		"workspace_create", "workspace_exec", "workspace_copy_to",
		"workspace_copy_from", "workspace_destroy",
	} {
		if !names[want] {
			t.Fatalf("missing tool %s in %+v", want, names)
		}
	}
}
