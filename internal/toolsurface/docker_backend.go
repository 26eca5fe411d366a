package toolsurface

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerBackend implements Backend over the Docker daemon: one container
// plus one named volume per workspace_id, grounded on
// teradata-labs-loom/pkg/docker.DockerExecutor's create/start/exec-attach
// sequence, generalized from loom's per-runtime container pool to one
// long-lived container per chat workspace.
type DockerBackend struct {
	client     *client.Client
	mountPath  string
	defaultImg string
}

// DockerBackendConfig configures DockerBackend.
type DockerBackendConfig struct {
	// Host is the Docker daemon endpoint; empty uses the client's default
	// host-detection (DOCKER_HOST env var, else the platform default socket).
	Host string
	// MountPath is where the workspace volume is mounted inside the
	// container. Default: /workspace.
	MountPath string
	// DefaultImage is used when a CreateRequest omits Image.
	DefaultImage string
}

// NewDockerBackend opens a Docker client and verifies the daemon is
// reachable.
func NewDockerBackend(ctx context.Context, cfg DockerBackendConfig) (*DockerBackend, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "/workspace"
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "nexus-prp/sandbox:latest"
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("toolsurface: ping docker daemon: %w", err)
	}

	return &DockerBackend{client: cli, mountPath: cfg.MountPath, defaultImg: cfg.DefaultImage}, nil
}

// Close releases the underlying Docker client.
func (b *DockerBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *DockerBackend) containerName(workspaceID string) string { return "nexus-ws-" + workspaceID }
func (b *DockerBackend) volumeName(workspaceID string) string    { return "nexus-ws-vol-" + workspaceID }

// Create implements Backend: creates a named volume, a container mounting
// it at MountPath, and starts the container.
func (b *DockerBackend) Create(ctx context.Context, req CreateRequest) (Descriptor, error) {
	image := req.Image
	if image == "" {
		image = b.defaultImg
	}

	volName := b.volumeName(req.WorkspaceID)
	if _, err := b.client.VolumeCreate(ctx, volume.CreateOptions{Name: volName}); err != nil {
		return Descriptor{}, fmt.Errorf("toolsurface: create volume: %w", err)
	}

	containerCfg := &container.Config{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: b.mountPath,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{volName + ":" + b.mountPath},
	}

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, b.containerName(req.WorkspaceID))
	if err != nil {
		return Descriptor{}, fmt.Errorf("toolsurface: create container: %w", err)
	}
	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Descriptor{}, fmt.Errorf("toolsurface: start container: %w", err)
	}

	now := time.Now()
	slog.Info("workspace created", "workspace_id", req.WorkspaceID, "container", resp.ID, "image", image)

	return Descriptor{
		WorkspaceID: req.WorkspaceID,
		Volume:      volName,
		Container:   resp.ID,
		MountPath:   b.mountPath,
		Image:       image,
		CreatedAt:   now,
	}, nil
}

// Exec implements Backend: runs command inside the workspace's container
// and captures stdout/stderr/return code (grounded on
// DockerExecutor.executeCommand's exec-create/attach/stdcopy sequence).
func (b *DockerBackend) Exec(ctx context.Context, req ExecRequest) (CommandResult, error) {
	if len(req.Command) == 0 {
		return CommandResult{}, fmt.Errorf("toolsurface: command is empty")
	}
	containerName := b.containerName(req.WorkspaceID)

	var envVars []string
	for k, v := range req.Env {
		envVars = append(envVars, k+"="+v)
	}

	started := time.Now()
	execCfg := container.ExecOptions{
		Cmd:          req.Command,
		Env:          envVars,
		WorkingDir:   req.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	}
	execID, err := b.client.ContainerExecCreate(ctx, containerName, execCfg)
	if err != nil {
		return CommandResult{}, fmt.Errorf("toolsurface: exec create: %w", err)
	}

	attach, err := b.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return CommandResult{}, fmt.Errorf("toolsurface: exec attach: %w", err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader); err != nil && err != io.EOF {
		return CommandResult{}, fmt.Errorf("toolsurface: read exec output: %w", err)
	}

	inspect, err := b.client.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return CommandResult{}, fmt.Errorf("toolsurface: exec inspect: %w", err)
	}
	finished := time.Now()

	return CommandResult{
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		ReturnCode:      inspect.ExitCode,
		StartedAt:       started,
		FinishedAt:      finished,
		DurationSeconds: finished.Sub(started).Seconds(),
	}, nil
}

// CopyTo implements Backend: tars up req.Source from the host and streams
// it into the container at req.Destination via the Docker CopyToContainer
// API.
func (b *DockerBackend) CopyTo(ctx context.Context, req CopyRequest) (CopyDetail, error) {
	archive, size, err := tarFile(req.Source)
	if err != nil {
		return CopyDetail{}, fmt.Errorf("toolsurface: tar %s: %w", req.Source, err)
	}
	containerName := b.containerName(req.WorkspaceID)
	dir := filepath.Dir(req.Destination)
	if err := b.client.CopyToContainer(ctx, containerName, dir, archive, container.CopyToContainerOptions{}); err != nil {
		return CopyDetail{}, fmt.Errorf("toolsurface: copy to container: %w", err)
	}
	return CopyDetail{BytesTransferred: size}, nil
}

// CopyFrom implements Backend: streams req.Source out of the container via
// CopyFromContainer and un-tars it to req.Destination on the host.
func (b *DockerBackend) CopyFrom(ctx context.Context, req CopyRequest) (CopyDetail, error) {
	containerName := b.containerName(req.WorkspaceID)
	reader, _, err := b.client.CopyFromContainer(ctx, containerName, req.Source)
	if err != nil {
		return CopyDetail{}, fmt.Errorf("toolsurface: copy from container: %w", err)
	}
	defer reader.Close()

	size, err := untarTo(reader, req.Destination)
	if err != nil {
		return CopyDetail{}, fmt.Errorf("toolsurface: untar to %s: %w", req.Destination, err)
	}
	return CopyDetail{BytesTransferred: size}, nil
}

// Destroy implements Backend: stops and removes the container, and the
// volume if deleteVolume is set.
func (b *DockerBackend) Destroy(ctx context.Context, workspaceID string, deleteVolume bool) error {
	containerName := b.containerName(workspaceID)
	timeout := 10
	if err := b.client.ContainerStop(ctx, containerName, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("workspace container stop failed, proceeding to remove", "workspace_id", workspaceID, "error", err)
	}
	if err := b.client.ContainerRemove(ctx, containerName, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("toolsurface: remove container: %w", err)
	}
	if deleteVolume {
		if err := b.client.VolumeRemove(ctx, b.volumeName(workspaceID), true); err != nil {
			return fmt.Errorf("toolsurface: remove volume: %w", err)
		}
	}
	slog.Info("workspace destroyed", "workspace_id", workspaceID, "delete_volume", deleteVolume)
	return nil
}

// tarFile builds a single-entry tar archive from a host path for use with
// CopyToContainer, which requires a tar stream rather than raw bytes.
func tarFile(path string) (io.Reader, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(path),
		Mode: int64(info.Mode().Perm()),
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, 0, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, 0, err
	}
	if err := tw.Close(); err != nil {
		return nil, 0, err
	}
	return &buf, int64(len(data)), nil
}

// untarTo extracts a single-file (or flat) tar stream to destination,
// returning the total bytes written.
func untarTo(r io.Reader, destination string) (int64, error) {
	tr := tar.NewReader(r)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := destination
		if strings.HasSuffix(destination, string(os.PathSeparator)) {
			target = filepath.Join(destination, hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return total, err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return total, err
		}
		n, err := io.Copy(f, tr)
		_ = f.Close()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
