package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Dir mirrors cache entries into another directory, typically a network
// file system shared between machines.
type Dir struct {
	root string
}

// NewDir creates a directory backend rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("backend dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backend directory: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) names(key string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list backend directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && BelongsTo(e.Name(), key) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Fetch copies the files of key into dir.
func (d *Dir) Fetch(ctx context.Context, key, dir string) ([]string, error) {
	names, err := d.names(key)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.copyIn(dir, name); err != nil {
			for _, done := range names[:i] {
				_ = os.Remove(filepath.Join(dir, done))
			}
			return nil, err
		}
	}
	return names, nil
}

func (d *Dir) copyIn(dir, name string) error {
	f, err := os.Open(filepath.Join(d.root, name))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return writeFileAtomic(dir, name, f)
}

// Upload copies the artifact files of key into the backend directory.
func (d *Dir) Upload(ctx context.Context, key string, paths []string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(p)
		if !BelongsTo(name, key) {
			return fmt.Errorf("file %s does not belong to key %s", name, key)
		}
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		err = writeFileAtomic(d.root, name, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the files of key from the backend directory.
func (d *Dir) Delete(ctx context.Context, key string) error {
	names, err := d.names(key)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(d.root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// Close is a no-op.
func (d *Dir) Close() error {
	return nil
}
