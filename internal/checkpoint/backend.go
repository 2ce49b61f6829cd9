package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Backend stores named checkpoint blobs. Put must be atomic: a concurrent
// Get observes either the previous or the new content. Get returns an error
// matching fs.ErrNotExist when the object was never written.
type Backend interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Location(name string) string
}

// FSBackend keeps checkpoints as files in a directory
type FSBackend struct {
	dir string
}

// NewFSBackend returns a backend rooted at dir. The directory is created on
// first write.
func NewFSBackend(dir string) *FSBackend {
	return &FSBackend{dir: dir}
}

func (b *FSBackend) Location(name string) string {
	return filepath.Join(b.dir, name)
}

// Put writes to <name>.tmp, fsyncs it and renames it over the target
func (b *FSBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	target := b.Location(name)
	tempPath := target + ".tmp"

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	syncDir(b.dir)
	return nil
}

// syncDir persists the rename; not every platform supports it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func (b *FSBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Location(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}

func (b *FSBackend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.Location(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
