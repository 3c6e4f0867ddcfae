package methodcache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const tmpPattern = ".tmp-*"

// localCache manages the flat cache directory: atomic artifact writes,
// reads, lookups by key and removal of every file belonging to a key.
type localCache struct {
	cacheDir string // Absolute path to cache directory
	logger   *slog.Logger
}

// newLocalCache creates the cache directory if needed.
func newLocalCache(cacheDir string, dirPerm os.FileMode, logger *slog.Logger) (*localCache, error) {
	if cacheDir == "" {
		return nil, errors.New("cache dir is empty")
	}
	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Convert to absolute path once at initialization
	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &localCache{
		cacheDir: absCacheDir,
		logger:   logger,
	}, nil
}

// write atomically writes one artifact file. encode receives a writer on a
// temporary file that is renamed into place only if encode succeeds, so a
// failed or interrupted write never leaves a file that looks like a hit.
func (lc *localCache) write(name string, encode func(w io.Writer) error) (string, error) {
	diskPath := filepath.Join(lc.cacheDir, name)

	tmpFile, err := os.CreateTemp(lc.cacheDir, tmpPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // Clean up if something goes wrong

	err = encode(tmpFile)
	closeErr := tmpFile.Close()
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, diskPath); err != nil {
		return "", fmt.Errorf("failed to rename cache file: %w", err)
	}
	return diskPath, nil
}

// read opens one artifact file and hands it to decode.
func (lc *localCache) read(path string, decode func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	if err := decode(f); err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return nil
}

// entryPaths returns the artifact files of key in positional order, or nil
// if the key has no files with the given suffix.
func (lc *localCache) entryPaths(key, suffix string) ([]string, error) {
	single := filepath.Join(lc.cacheDir, fileName(key, 0, 1, suffix))
	if ok, err := exists(single); err != nil || ok {
		if err != nil {
			return nil, err
		}
		return []string{single}, nil
	}

	var paths []string
	for i := 0; ; i++ {
		p := filepath.Join(lc.cacheDir, fileName(key, i, 2, suffix))
		ok, err := exists(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// removeEntry deletes every file of key in the namespace matched by re,
// covering single and multi-artifact entries of any suffix. Files are
// matched by their parsed key, so a key that prefixes another key's file
// name (e.g. a grouped key whose group equals this digest) is left alone.
func (lc *localCache) removeEntry(re *regexp.Regexp, key string) (int, error) {
	names, err := lc.entryFiles(re, key)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(lc.cacheDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove cache file %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// hasEntry reports whether any file of key exists, whatever its suffix.
func (lc *localCache) hasEntry(re *regexp.Regexp, key string) (bool, error) {
	names, err := lc.entryFiles(re, key)
	return len(names) > 0, err
}

func (lc *localCache) entryFiles(re *regexp.Regexp, key string) ([]string, error) {
	entries, err := os.ReadDir(lc.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), key) {
			continue
		}
		if k, ok := parseKey(re, e.Name()); ok && k == key {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// scannedKey is a key found on disk with the modification time of its most
// recently written file.
type scannedKey struct {
	key     string
	modTime time.Time
}

// scan lists the keys in the namespace matched by re, ordered from least to
// most recently modified. Ties are broken by key so that the order is stable.
func (lc *localCache) scan(re *regexp.Regexp) ([]scannedKey, error) {
	entries, err := os.ReadDir(lc.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	byKey := make(map[string]*scannedKey)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		key, ok := parseKey(re, e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		sk, ok := byKey[key]
		if !ok {
			sk = &scannedKey{key: key}
			byKey[key] = sk
		}
		if info.ModTime().After(sk.modTime) {
			sk.modTime = info.ModTime()
		}
	}

	keys := make([]scannedKey, 0, len(byKey))
	for _, sk := range byKey {
		keys = append(keys, *sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].modTime.Equal(keys[j].modTime) {
			return keys[i].key < keys[j].key
		}
		return keys[i].modTime.Before(keys[j].modTime)
	})
	return keys, nil
}

// clear removes every file in the namespace matched by re.
func (lc *localCache) clear(re *regexp.Regexp) (int, error) {
	entries, err := os.ReadDir(lc.cacheDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if _, ok := parseKey(re, e.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(lc.cacheDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove cache file %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat cache file: %w", err)
}
