package contextengine

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLocalBlobstore_WriteReadExists(t *testing.T) {
	dir := t.TempDir()
	bs, err := NewLocalBlobstore(dir)
	if err != nil {
		t.Fatalf("NewLocalBlobstore() error = %v", err)
	}

	ctx := context.Background()
	ref := "chat1/archive.json"

	if ok, _ := bs.Exists(ctx, ref); ok {
		t.Fatal("Exists() = true before Write")
	}

	if err := bs.Write(ctx, ref, []byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if ok, err := bs.Exists(ctx, ref); err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}

	data, err := bs.Read(ctx, ref)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Read() = %q, want payload", data)
	}
}

func TestLocalBlobstore_ReadMissingRefErrors(t *testing.T) {
	dir := t.TempDir()
	bs, _ := NewLocalBlobstore(dir)
	if _, err := bs.Read(context.Background(), "does/not/exist"); err == nil {
		t.Fatal("expected error reading missing ref")
	}
}

func TestLocalBlobstore_NestsDirectories(t *testing.T) {
	dir := t.TempDir()
	bs, _ := NewLocalBlobstore(dir)
	ref := "a/b/c/blob.json"
	if err := bs.Write(context.Background(), ref, []byte("x")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := bs.Read(context.Background(), filepath.FromSlash(ref)); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
}
