package contextengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Blobstore persists externalized segment content durably, keyed by a
// reference id, and is where context-reset archives trimmed history. The
// default implementation is local-filesystem, matching the teacher's
// external_memory_path-style local persistence (spec §6
// "external_memory_path").
type Blobstore interface {
	// Write persists content under ref, creating or overwriting it.
	Write(ctx context.Context, ref string, content []byte) error
	// Read returns the content previously written under ref.
	Read(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether ref has been written.
	Exists(ctx context.Context, ref string) (bool, error)
}

// LocalBlobstore stores blobs as files under a root directory.
type LocalBlobstore struct {
	root string
}

// NewLocalBlobstore returns a Blobstore rooted at dir, creating it if
// necessary.
func NewLocalBlobstore(dir string) (*LocalBlobstore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("contextengine: create blobstore root: %w", err)
	}
	return &LocalBlobstore{root: dir}, nil
}

func (b *LocalBlobstore) path(ref string) string {
	return filepath.Join(b.root, filepath.FromSlash(ref))
}

// Write implements Blobstore.
func (b *LocalBlobstore) Write(_ context.Context, ref string, content []byte) error {
	p := b.path(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("contextengine: mkdir for %s: %w", ref, err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return fmt.Errorf("contextengine: write %s: %w", ref, err)
	}
	return nil
}

// Read implements Blobstore.
func (b *LocalBlobstore) Read(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(b.path(ref))
	if err != nil {
		return nil, fmt.Errorf("contextengine: read %s: %w", ref, err)
	}
	return data, nil
}

// Exists implements Blobstore.
func (b *LocalBlobstore) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(b.path(ref))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
