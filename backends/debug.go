package backends

import (
	"context"
	"log/slog"
)

// Debug wraps any Backend and adds debug logging.
// This allows any backend implementation to have debug logging without
// coupling the debug logic to the backend implementation.
type Debug struct {
	backend Backend
	logger  *slog.Logger
}

// NewDebug creates a new debug wrapper around an existing backend.
func NewDebug(backend Backend, logger *slog.Logger) *Debug {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debug{
		backend: backend,
		logger:  logger,
	}
}

// Fetch downloads the objects of key with debug logging.
func (d *Debug) Fetch(ctx context.Context, key, dir string) ([]string, error) {
	d.logger.DebugContext(ctx, "remote fetch", "key", key, "dir", dir)

	names, err := d.backend.Fetch(ctx, key, dir)
	if err != nil {
		d.logger.DebugContext(ctx, "remote fetch failed", "key", key, "error", err)
		return names, err
	}

	if len(names) == 0 {
		d.logger.DebugContext(ctx, "remote fetch: miss", "key", key)
	} else {
		d.logger.DebugContext(ctx, "remote fetch: hit", "key", key, "files", names)
	}
	return names, nil
}

// Upload stores the artifact files of key with debug logging.
func (d *Debug) Upload(ctx context.Context, key string, paths []string) error {
	d.logger.DebugContext(ctx, "remote upload", "key", key, "files", len(paths))

	err := d.backend.Upload(ctx, key, paths)
	if err != nil {
		d.logger.DebugContext(ctx, "remote upload failed", "key", key, "error", err)
		return err
	}

	d.logger.DebugContext(ctx, "remote upload: stored", "key", key)
	return nil
}

// Delete removes the objects of key with debug logging.
func (d *Debug) Delete(ctx context.Context, key string) error {
	d.logger.DebugContext(ctx, "remote delete", "key", key)

	err := d.backend.Delete(ctx, key)
	if err != nil {
		d.logger.DebugContext(ctx, "remote delete failed", "key", key, "error", err)
	}
	return err
}

// Close performs cleanup operations with debug logging.
func (d *Debug) Close() error {
	d.logger.Debug("closing remote backend")

	err := d.backend.Close()
	if err != nil {
		d.logger.Debug("closing remote backend failed", "error", err)
	}
	return err
}
