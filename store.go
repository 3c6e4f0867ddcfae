package methodcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richardartoul/methodcache/backends"
	"github.com/richardartoul/methodcache/pkg/locking"
	"github.com/richardartoul/methodcache/pkg/metrics"
)

var (
	// ErrArtifactCount is returned when a single-value load finds an entry
	// stored with several artifacts.
	ErrArtifactCount = errors.New("unexpected number of cached artifacts")

	// ErrResultType is returned when a result does not have the type the
	// caller asked for, e.g. when calls of different result types share a
	// key through a locking.Singleflight group.
	ErrResultType = errors.New("unexpected result type")
)

const defaultDirPerm = 0o755

// Store memoizes the results of expensive deterministic computations in a
// directory, keyed by a digest of their inputs.
//
// All entries of a store share the name prefix in their file names, so
// several stores (and several methods of one store) can share a directory.
// With WithMaxEntries the store keeps at most that many entries of its own
// namespace, evicting the least recently used.
//
// A Store is safe for concurrent use. Two Store values pointed at the same
// directory do not coordinate their in-memory state; each only reconciles
// with the directory when it is created.
type Store struct {
	name      string
	local     *localCache
	namespace *regexp.Regexp
	handler   Handler
	logger    *slog.Logger
	locks     locking.Group
	index     *recencyIndex // nil unless bounded
	remote    backends.Backend
	latency   *metrics.LatencyTracker
	counters  *metrics.Counters
	disabled  bool

	// files guards the artifact files against eviction: loads and writes
	// hold it shared, deleting an evicted entry holds it exclusively.
	files sync.RWMutex

	hits      atomic.Int64
	misses    atomic.Int64
	forced    atomic.Int64
	evictions atomic.Int64
}

type options struct {
	handler    Handler
	logger     *slog.Logger
	locks      locking.Group
	maxEntries int
	remote     backends.Backend
	latency    *metrics.LatencyTracker
	counters   *metrics.Counters
	disabled   bool
	dirPerm    os.FileMode
}

// Option configures a Store.
type Option func(*options)

// WithHandler sets the artifact format. Defaults to GobHandler.
func WithHandler(h Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLocking sets the group used to serialize work on one key. Defaults
// to an in-process locking.MemLock.
func WithLocking(g locking.Group) Option {
	return func(o *options) {
		o.locks = g
	}
}

// WithMaxEntries bounds the store to n entries with LRU eviction. Use 0 to
// disable the limit.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		o.maxEntries = n
	}
}

// WithRemote adds a remote tier consulted on local misses and updated
// after every local write.
func WithRemote(b backends.Backend) Option {
	return func(o *options) {
		o.remote = b
	}
}

// WithLatencyTracker records load, compute and persist latencies.
func WithLatencyTracker(t *metrics.LatencyTracker) Option {
	return func(o *options) {
		o.latency = t
	}
}

// WithCounters exports hit, miss, forced recompute and eviction counts.
func WithCounters(c *metrics.Counters) Option {
	return func(o *options) {
		o.counters = c
	}
}

// WithDisabled turns the store into a pass-through: every call computes
// and nothing is read from or written to disk.
func WithDisabled() Option {
	return func(o *options) {
		o.disabled = true
	}
}

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(o *options) {
		o.dirPerm = mode
	}
}

// New creates a store named name in dir. The name is the first component
// of every key the store produces; see NameOf.
//
// A bounded store rebuilds its recency order from the modification times
// of the files already in its namespace and evicts down to the limit, so
// a restarted process converges to the same state as one that enforced
// the limit continuously.
func New(dir, name string, opts ...Option) (*Store, error) {
	if err := validateSegment("store name", name, false); err != nil {
		return nil, err
	}
	o := options{
		handler: GobHandler,
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries < 0 {
		return nil, errors.New("max entries must be >= 0")
	}
	if err := o.handler.validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.locks == nil {
		o.locks = locking.NewMemLock()
	}

	s := &Store{
		name:      name,
		namespace: namespacePattern(name),
		handler:   o.handler,
		logger:    o.logger.With("store", name),
		locks:     o.locks,
		remote:    o.remote,
		latency:   o.latency,
		counters:  o.counters,
		disabled:  o.disabled,
	}
	if s.disabled {
		s.logger.Info("cache disabled")
		return s, nil
	}

	local, err := newLocalCache(dir, o.dirPerm, s.logger)
	if err != nil {
		return nil, err
	}
	s.local = local

	if o.maxEntries > 0 {
		s.index = newRecencyIndex(o.maxEntries)
		if err := s.rebuild(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// rebuild replays the entries on disk, oldest first, as if each had just
// been stored. Entries beyond the limit are evicted along the way.
func (s *Store) rebuild() error {
	keys, err := s.local.scan(s.namespace)
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}
	for _, k := range keys {
		var evicted []string
		s.admit(k.key, &evicted)
		for _, key := range evicted {
			if err := s.evict(key); err != nil {
				return err
			}
		}
	}
	s.logger.Info("rebuilt cache index",
		"dir", s.local.cacheDir,
		"scanned", len(keys),
		"entries", s.index.len(),
		"max_entries", s.index.maxEntries)
	return nil
}

// admit records a store of key in the recency index. A key evicted to make
// room is appended to evicted; its files are deleted by evict once the
// caller no longer holds s.files.
func (s *Store) admit(key string, evicted *[]string) {
	if s.index == nil {
		return
	}
	k, ok := s.index.admit(key)
	if !ok {
		return
	}
	s.evictions.Add(1)
	if s.counters != nil {
		s.counters.Evicted(s.name)
	}
	*evicted = append(*evicted, k)
}

// evict deletes the files of an evicted key. It waits for loads and writes
// in progress, and keeps the files of a key that was admitted again in the
// meantime.
func (s *Store) evict(key string) error {
	s.files.Lock()
	defer s.files.Unlock()

	if s.index.contains(key) {
		return nil
	}
	removed, err := s.local.removeEntry(s.namespace, key)
	s.logger.Info("evicted cache entry", "key", key, "files", removed)
	if err != nil {
		return fmt.Errorf("failed to evict %s: %w", key, err)
	}
	return nil
}

// CallOption configures a single Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	group   string
	force   bool
	handler *Handler
}

// WithGroup namespaces the call under a cache group, so that otherwise
// identical calls (e.g. in different pipeline branches) get distinct keys.
func WithGroup(group string) CallOption {
	return func(o *callOptions) {
		o.group = group
	}
}

// WithForceRecompute skips the lookup, recomputes and overwrites the entry.
func WithForceRecompute() CallOption {
	return func(o *callOptions) {
		o.force = true
	}
}

// WithCallHandler overrides the store's artifact format for one call.
func WithCallHandler(h Handler) CallOption {
	return func(o *callOptions) {
		o.handler = &h
	}
}

type call struct {
	key     string
	method  string
	force   bool
	handler Handler
	// stale is set when files of the key may exist on disk although the
	// lookup reported a miss; they are removed before the entry is written.
	stale bool
	// evicted collects keys evicted by this call, deleted when it ends.
	evicted []string
}

// do runs fn under the call's key lock. Forced calls never join another
// caller's computation.
func (s *Store) do(c *call, fn func() (any, error)) (any, error) {
	if c.force {
		return s.doExclusive(c.key, fn)
	}
	return s.locks.DoWithLock(c.key, fn)
}

func (s *Store) doExclusive(key string, fn func() (any, error)) (any, error) {
	if ex, ok := s.locks.(locking.Exclusive); ok {
		return ex.DoExclusive(key, fn)
	}
	return s.locks.DoWithLock(key, fn)
}

func resultAs[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %v", ErrResultType, v, reflect.TypeFor[T]())
	}
	return out, nil
}

func (s *Store) newCall(method string, components []any, opts []CallOption) (*call, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	c := &call{method: method, force: co.force, handler: s.handler}
	if co.handler != nil {
		if err := co.handler.validate(); err != nil {
			return nil, err
		}
		c.handler = *co.handler
	}
	key, err := ComputeKey(s.name, method, co.group, components)
	if err != nil {
		return nil, err
	}
	if err := checkNameLen(key, 1, c.handler.Suffix); err != nil {
		return nil, err
	}
	c.key = key
	c.stale = c.force
	return c, nil
}

// Key returns the cache key a call with these arguments would use.
func (s *Store) Key(method string, components []any, opts ...CallOption) (string, error) {
	c, err := s.newCall(method, components, opts)
	if err != nil {
		return "", err
	}
	return c.key, nil
}

// Execute returns the cached result of compute for the given key
// components, calling compute and caching its result on a miss.
//
// method identifies the computation and, with the store name, forms the
// readable part of the key; two methods never share entries. compute runs
// at most once per call. Its errors are returned unchanged and nothing is
// cached. On a miss the returned value is read back from the stored
// artifact, so it is exactly what later hits will return.
func Execute[T any](ctx context.Context, s *Store, method string, compute func() (T, error), components []any, opts ...CallOption) (T, error) {
	var zero T
	if s.disabled {
		return compute()
	}
	c, err := s.newCall(method, components, opts)
	if err != nil {
		return zero, err
	}

	v, err := s.do(c, func() (any, error) {
		return run(ctx, s, c,
			func() (any, []any, error) {
				v, err := compute()
				if err != nil {
					return nil, nil, err
				}
				return v, []any{v}, nil
			},
			func(paths []string) (any, error) {
				if len(paths) != 1 {
					return nil, fmt.Errorf("%w: %s has %d artifacts, want 1", ErrArtifactCount, c.key, len(paths))
				}
				var v T
				err := s.local.read(paths[0], func(r io.Reader) error {
					return c.handler.Read(r, &v)
				})
				return v, err
			})
	})
	if err != nil {
		return zero, err
	}
	return resultAs[T](v)
}

// ExecuteMulti is Execute for computations producing several artifacts.
// Each element is stored in its own file, key_0 to key_{N-1}, and loaded
// back in the same order. A single-element result is stored like an
// Execute result.
func ExecuteMulti[T any](ctx context.Context, s *Store, method string, compute func() ([]T, error), components []any, opts ...CallOption) ([]T, error) {
	if s.disabled {
		return compute()
	}
	c, err := s.newCall(method, components, opts)
	if err != nil {
		return nil, err
	}

	v, err := s.do(c, func() (any, error) {
		return run(ctx, s, c,
			func() (any, []any, error) {
				vs, err := compute()
				if err != nil {
					return nil, nil, err
				}
				arts := make([]any, len(vs))
				for i := range vs {
					arts[i] = vs[i]
				}
				return vs, arts, nil
			},
			func(paths []string) (any, error) {
				out := make([]T, len(paths))
				for i, p := range paths {
					err := s.local.read(p, func(r io.Reader) error {
						return c.handler.Read(r, &out[i])
					})
					if err != nil {
						return nil, err
					}
				}
				return out, nil
			})
	})
	if err != nil {
		return nil, err
	}
	return resultAs[[]T](v)
}

type decodeFunc func(paths []string) (any, error)

// run is the compute-or-load sequence shared by Execute and ExecuteMulti.
// compute returns the caller-facing result and the artifacts to store;
// decode loads the caller-facing result from artifact files.
func run(
	ctx context.Context,
	s *Store,
	c *call,
	compute func() (any, []any, error),
	decode decodeFunc,
) (any, error) {
	defer func() {
		for _, key := range c.evicted {
			if err := s.evict(key); err != nil {
				s.logger.Warn("failed to delete evicted cache entry", "key", key, "error", err)
			}
		}
	}()

	if c.force {
		s.forced.Add(1)
		if s.counters != nil {
			s.counters.Forced(s.name, c.method)
		}
		s.logger.Info("forcing recompute", "key", c.key)
	} else {
		v, hit, err := s.load(ctx, c, decode)
		if err != nil {
			return nil, err
		}
		if hit {
			s.hits.Add(1)
			if s.counters != nil {
				s.counters.Hit(s.name, c.method)
			}
			s.logger.Info("cache hit", "key", c.key)
			return v, nil
		}
		s.misses.Add(1)
		if s.counters != nil {
			s.counters.Miss(s.name, c.method)
		}
		s.logger.Info("cache miss", "key", c.key)
	}

	start := time.Now()
	result, arts, err := compute()
	s.observe(metrics.OpCompute, start)
	if err != nil {
		return nil, err
	}

	if len(arts) == 0 {
		s.logger.Warn("computation returned no artifacts, result not cached", "key", c.key)
		return result, nil
	}
	for _, a := range arts {
		if isNil(a) && !c.handler.AcceptsNil {
			s.logger.Warn("handler cannot store nil, result not cached",
				"key", c.key, "suffix", c.handler.Suffix)
			return result, nil
		}
	}
	if err := checkNameLen(c.key, len(arts), c.handler.Suffix); err != nil {
		return nil, err
	}

	v, paths, err := s.persist(c, arts, decode)
	if err != nil {
		return nil, err
	}
	s.pushRemote(ctx, c.key, paths)
	return v, nil
}

// load returns the decoded entry of the call's key, consulting the remote
// tier on a local miss. Files are read while holding s.files, so that an
// entry found in the index cannot be evicted before it is decoded.
func (s *Store) load(ctx context.Context, c *call, decode decodeFunc) (any, bool, error) {
	v, hit, err := s.loadLocal(c, decode)
	if hit || err != nil || c.stale || !s.fetchRemote(ctx, c.key) {
		return v, hit, err
	}

	s.files.RLock()
	defer s.files.RUnlock()

	paths, err := s.local.entryPaths(c.key, c.handler.Suffix)
	if err != nil || len(paths) == 0 {
		c.stale = true
		return nil, false, err
	}
	s.admit(c.key, &c.evicted)
	v, err = s.decode(decode, paths)
	return v, err == nil, err
}

func (s *Store) loadLocal(c *call, decode decodeFunc) (any, bool, error) {
	s.files.RLock()
	defer s.files.RUnlock()

	paths, err := s.local.entryPaths(c.key, c.handler.Suffix)
	if err != nil || len(paths) == 0 {
		return nil, false, err
	}
	if s.index != nil && !s.index.touch(c.key) {
		// Only indexed entries count as cached, so that every entry
		// served is also accounted for by the eviction policy.
		s.logger.Info("cache files present but not indexed, treating as miss", "key", c.key)
		c.stale = true
		return nil, false, nil
	}
	v, err := s.decode(decode, paths)
	return v, err == nil, err
}

func (s *Store) decode(decode decodeFunc, paths []string) (any, error) {
	start := time.Now()
	v, err := decode(paths)
	s.observe(metrics.OpLoad, start)
	return v, err
}

// persist writes every artifact under the call's key and decodes the
// stored entry. On failure the files already written are removed so that
// a partial entry is never reported as a hit.
func (s *Store) persist(c *call, arts []any, decode decodeFunc) (any, []string, error) {
	s.files.RLock()
	defer s.files.RUnlock()

	if c.stale {
		if _, err := s.local.removeEntry(s.namespace, c.key); err != nil {
			return nil, nil, err
		}
	}
	s.admit(c.key, &c.evicted)

	start := time.Now()
	paths := make([]string, 0, len(arts))
	for i, a := range arts {
		name := fileName(c.key, i, len(arts), c.handler.Suffix)
		p, err := s.local.write(name, func(w io.Writer) error {
			return c.handler.Write(w, a)
		})
		if err != nil {
			if _, rmErr := s.local.removeEntry(s.namespace, c.key); rmErr != nil {
				s.logger.Warn("failed to clean up partial cache entry", "key", c.key, "error", rmErr)
			}
			if s.index != nil {
				s.index.forget(c.key)
			}
			return nil, nil, err
		}
		paths = append(paths, p)
	}
	s.observe(metrics.OpPersist, start)

	v, err := s.decode(decode, paths)
	if err != nil {
		return nil, nil, err
	}
	return v, paths, nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.latency != nil {
		s.latency.Record(op, time.Since(start))
	}
}

// Contains reports whether an entry exists for key, whichever handler
// wrote it. It does not affect recency.
func (s *Store) Contains(key string) bool {
	if s.disabled {
		return false
	}
	if s.index != nil && !s.index.contains(key) {
		return false
	}
	if paths, err := s.local.entryPaths(key, s.handler.Suffix); err == nil && len(paths) > 0 {
		return true
	}
	ok, err := s.local.hasEntry(s.namespace, key)
	return err == nil && ok
}

// Remove deletes the entry for key locally and, if configured, remotely.
func (s *Store) Remove(ctx context.Context, key string) error {
	if s.disabled {
		return nil
	}
	_, err := s.doExclusive(key, func() (any, error) {
		s.files.Lock()
		_, err := s.local.removeEntry(s.namespace, key)
		if s.index != nil {
			s.index.forget(key)
		}
		s.files.Unlock()
		if err != nil {
			return nil, err
		}
		if s.remote != nil {
			if err := s.remote.Delete(ctx, key); err != nil {
				return nil, fmt.Errorf("failed to delete remote entry %s: %w", key, err)
			}
		}
		return nil, nil
	})
	return err
}

// Clear deletes every local entry in the store's namespace. The remote
// tier is left untouched.
func (s *Store) Clear() error {
	if s.disabled {
		return nil
	}
	s.files.Lock()
	removed, err := s.local.clear(s.namespace)
	if s.index != nil {
		s.index.reset()
	}
	s.files.Unlock()
	s.logger.Info("cleared cache", "files", removed)
	return err
}

// Len returns the number of entries in the store's namespace.
func (s *Store) Len() (int, error) {
	if s.disabled {
		return 0, nil
	}
	if s.index != nil {
		return s.index.len(), nil
	}
	keys, err := s.local.scan(s.namespace)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Stats counts cache events since the store was created.
type Stats struct {
	Hits      int64
	Misses    int64
	Forced    int64
	Evictions int64
}

// Stats returns the store's event counts.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Forced:    s.forced.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Dir returns the absolute cache directory, or "" for a disabled store.
func (s *Store) Dir() string {
	if s.local == nil {
		return ""
	}
	return s.local.cacheDir
}

// MaxEntries returns the entry limit, 0 when unbounded.
func (s *Store) MaxEntries() int {
	if s.index == nil {
		return 0
	}
	return s.index.maxEntries
}

// Close releases the remote tier and the locking group, if they hold
// resources.
func (s *Store) Close() error {
	var errs []error
	if s.remote != nil {
		errs = append(errs, s.remote.Close())
	}
	if c, ok := s.locks.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
