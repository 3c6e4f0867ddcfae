// Package backends provides remote tiers that mirror a cache directory, so
// that cached results computed on one machine can be reused on another.
package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Backend defines the interface for remote cache tiers.
//
// Objects are named exactly like the files in the local cache directory.
// The store holds its per-key lock around every call, so implementations
// never see concurrent operations on the same key from one process.
type Backend interface {
	// Fetch downloads every object belonging to key into dir and returns
	// the names of the files written. It returns no names and no error if
	// the key is not stored remotely.
	Fetch(ctx context.Context, key, dir string) ([]string, error)

	// Upload stores the artifact files of key.
	Upload(ctx context.Context, key string, paths []string) error

	// Delete removes every object belonging to key.
	Delete(ctx context.Context, key string) error

	// Close performs any cleanup operations needed by the backend.
	Close() error
}

// nestedKey matches the start of a name that continues key with a further
// digest segment, i.e. a file of a longer key sharing this one as prefix.
var nestedKey = regexp.MustCompile(`^\.[0-9a-f]{32}[._]`)

// BelongsTo reports whether the file or object name is an artifact of key:
// either "key.suffix" or "key_N.suffix".
func BelongsTo(name, key string) bool {
	rest, ok := strings.CutPrefix(name, key)
	if !ok || len(rest) < 2 {
		return false
	}
	switch rest[0] {
	case '.':
		return !nestedKey.MatchString(rest)
	case '_':
		digits := strings.TrimLeft(rest[1:], "0123456789")
		return len(digits) < len(rest)-1 && len(digits) > 1 && digits[0] == '.'
	}
	return false
}

// writeFileAtomic copies r into dir/name through a temporary file so that a
// partially downloaded object is never visible under its final name.
func writeFileAtomic(dir, name string, r io.Reader) (err error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid object name %q", name)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	_, err = io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err = os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("backend closed")
