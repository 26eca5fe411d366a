package toolsurface

import "context"

// Backend is the opaque workspace side-effect contract the core depends
// on (spec §1 Non-goals: "shell/container workspace tool surface ...
// opaque side-effect operations"). DockerBackend is the concrete
// implementation; tests and local runs use a fake satisfying the same
// interface.
type Backend interface {
	Create(ctx context.Context, req CreateRequest) (Descriptor, error)
	Exec(ctx context.Context, req ExecRequest) (CommandResult, error)
	CopyTo(ctx context.Context, req CopyRequest) (CopyDetail, error)
	CopyFrom(ctx context.Context, req CopyRequest) (CopyDetail, error)
	Destroy(ctx context.Context, workspaceID string, deleteVolume bool) error
}
