// Package toolsurface implements the opaque workspace tool contracts (spec
// §6 "Workspace tool payloads"): workspace_create/exec/copy_to/copy_from/
// destroy. The core runtime treats these as opaque side-effect operations
// returning structured results (spec §1 Non-goals); this package supplies
// one concrete Backend (Docker) behind that contract, grounded on
// teradata-labs-loom's pkg/docker executor.
package toolsurface

import "time"

// Descriptor is the workspace record returned by workspace_create and
// carried on chat state (spec §3 "workspace").
type Descriptor struct {
	WorkspaceID string    `json:"workspace_id"`
	Volume      string    `json:"volume"`
	Container   string    `json:"container"`
	MountPath   string    `json:"mount_path"`
	Image       string    `json:"image"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateRequest is the workspace_create payload.
type CreateRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Image       string `json:"image,omitempty"`
}

// CreateResult is the workspace_create response envelope.
type CreateResult struct {
	Success   bool       `json:"success"`
	Workspace Descriptor `json:"workspace"`
	Error     string     `json:"error,omitempty"`
}

// ExecRequest is the workspace_exec payload.
type ExecRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	Command     []string          `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// CommandResult is workspace_exec's `workspace_command` field.
type CommandResult struct {
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	ReturnCode      int       `json:"returncode"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ExecResult is the workspace_exec response envelope.
type ExecResult struct {
	Success          bool          `json:"success"`
	WorkspaceCommand CommandResult `json:"workspace_command"`
	Error            string        `json:"error,omitempty"`
}

// CopyRequest is the workspace_copy_to/workspace_copy_from payload.
type CopyRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// CopyDetail is workspace_copy_to/from's `workspace_copy` field.
type CopyDetail struct {
	BytesTransferred int64 `json:"bytes_transferred,omitempty"`
}

// CopyResult is the workspace_copy_to/from response envelope.
type CopyResult struct {
	Success       bool       `json:"success"`
	WorkspaceCopy CopyDetail `json:"workspace_copy"`
	Error         string     `json:"error,omitempty"`
}

// DestroyRequest is the workspace_destroy payload.
type DestroyRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	DeleteVolume bool   `json:"delete_volume"`
}

// DestroyResult is the workspace_destroy response envelope.
type DestroyResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
