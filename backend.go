package methodcache

import (
	"context"
	"time"

	"github.com/richardartoul/methodcache/pkg/metrics"
)

// The remote tier is best effort: failures are logged and the store
// behaves as if no remote were configured.

// fetchRemote downloads the entry of key from the remote tier into the
// cache directory. It reports whether any file was fetched.
func (s *Store) fetchRemote(ctx context.Context, key string) bool {
	if s.remote == nil {
		return false
	}
	start := time.Now()
	names, err := s.remote.Fetch(ctx, key, s.local.cacheDir)
	s.observe(metrics.OpRemoteFetch, start)
	if err != nil {
		s.logger.Warn("remote fetch failed", "key", key, "error", err)
		return false
	}
	if len(names) == 0 {
		return false
	}
	s.logger.Info("fetched cache entry from remote", "key", key, "files", len(names))
	return true
}

// pushRemote mirrors the freshly written files of key to the remote tier.
func (s *Store) pushRemote(ctx context.Context, key string, paths []string) {
	if s.remote == nil {
		return
	}
	start := time.Now()
	err := s.remote.Upload(ctx, key, paths)
	s.observe(metrics.OpRemotePush, start)
	if err != nil {
		s.logger.Warn("remote upload failed", "key", key, "error", err)
	}
}
