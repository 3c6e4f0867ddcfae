package methodcache

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecencyIndexEviction(t *testing.T) {
	t.Parallel()

	ri := newRecencyIndex(2)
	_, ok := ri.admit("A")
	assert.False(t, ok)
	_, ok = ri.admit("B")
	assert.False(t, ok)

	evicted, ok := ri.admit("C")
	assert.True(t, ok)
	assert.Equal(t, "A", evicted)
	assert.Equal(t, []string{"B", "C"}, ri.keys())
}

func TestRecencyIndexRefresh(t *testing.T) {
	t.Parallel()

	ri := newRecencyIndex(2)
	ri.admit("A")
	ri.admit("B")

	_, ok := ri.admit("A")
	assert.False(t, ok, "refreshing an existing key must not evict")
	assert.Equal(t, []string{"B", "A"}, ri.keys())

	assert.True(t, ri.touch("B"))
	assert.False(t, ri.touch("Z"))
	assert.Equal(t, []string{"A", "B"}, ri.keys())

	evicted, ok := ri.admit("C")
	assert.True(t, ok)
	assert.Equal(t, "A", evicted)
}

func TestRecencyIndexCapacity(t *testing.T) {
	t.Parallel()

	const maxEntries = 5
	ri := newRecencyIndex(maxEntries)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		key := strconv.Itoa(rng.IntN(12))
		switch rng.IntN(3) {
		case 0:
			before := ri.len()
			existed := ri.contains(key)
			_, evicted := ri.admit(key)
			if existed {
				assert.False(t, evicted)
				assert.Equal(t, before, ri.len())
			} else if before == maxEntries {
				assert.True(t, evicted)
			}
		case 1:
			ri.touch(key)
		case 2:
			ri.forget(key)
		}
		require.LessOrEqual(t, ri.len(), maxEntries)
		require.Len(t, ri.keys(), ri.len())
	}
}

func executeString(t *testing.T, s *Store, method, input string, computed *int) string {
	t.Helper()
	v, err := Execute(context.Background(), s, method, func() (string, error) {
		*computed++
		return "out-" + input, nil
	}, []any{input})
	require.NoError(t, err)
	require.Equal(t, "out-"+input, v)
	return v
}

func mustKey(t *testing.T, s *Store, method, input string) string {
	t.Helper()
	key, err := s.Key(method, []any{input})
	require.NoError(t, err)
	return key
}

func TestBoundedStoreEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir(), WithMaxEntries(2))
	var computed int
	executeString(t, s, "convert", "A", &computed)
	executeString(t, s, "convert", "B", &computed)
	executeString(t, s, "convert", "C", &computed)

	assert.Equal(t, 3, computed)
	assert.False(t, s.Contains(mustKey(t, s, "convert", "A")))
	assert.NoFileExists(t, filepath.Join(s.Dir(), mustKey(t, s, "convert", "A")+".gob"))
	assert.Equal(t, []string{mustKey(t, s, "convert", "B"), mustKey(t, s, "convert", "C")}, s.index.keys())
	assert.Equal(t, int64(1), s.Stats().Evictions)

	// B becomes most recently used, so D evicts C.
	executeString(t, s, "convert", "B", &computed)
	executeString(t, s, "convert", "D", &computed)
	assert.Equal(t, 4, computed)
	assert.True(t, s.Contains(mustKey(t, s, "convert", "B")))
	assert.False(t, s.Contains(mustKey(t, s, "convert", "C")))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBoundedStoreRefreshDoesNotEvict(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir(), WithMaxEntries(2))
	var computed int
	executeString(t, s, "convert", "A", &computed)
	executeString(t, s, "convert", "B", &computed)

	_, err := Execute(context.Background(), s, "convert", func() (string, error) {
		computed++
		return "out-A", nil
	}, []any{"A"}, WithForceRecompute())
	require.NoError(t, err)

	assert.Equal(t, 3, computed)
	assert.Equal(t, int64(0), s.Stats().Evictions)
	assert.True(t, s.Contains(mustKey(t, s, "convert", "A")))
	assert.True(t, s.Contains(mustKey(t, s, "convert", "B")))
	assert.Equal(t, []string{mustKey(t, s, "convert", "B"), mustKey(t, s, "convert", "A")}, s.index.keys())
}

func TestBoundedStoreColdStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unbounded := newTestStore(t, dir)
	var computed int
	inputs := []string{"A", "B", "C", "D", "E"}
	base := time.Now().Add(-time.Hour)
	for i, in := range inputs {
		executeString(t, unbounded, "convert", in, &computed)
		path := filepath.Join(dir, mustKey(t, unbounded, "convert", in)+".gob")
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	// A file of another store in the same directory is not counted.
	other := newNamedStore(t, dir, "Selector")
	executeString(t, other, "convert", "A", &computed)

	bounded := newTestStore(t, dir, WithMaxEntries(3))
	n, err := bounded.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		mustKey(t, bounded, "convert", "C"),
		mustKey(t, bounded, "convert", "D"),
		mustKey(t, bounded, "convert", "E"),
	}, bounded.index.keys())
	assert.NoFileExists(t, filepath.Join(dir, mustKey(t, bounded, "convert", "A")+".gob"))
	assert.NoFileExists(t, filepath.Join(dir, mustKey(t, bounded, "convert", "B")+".gob"))
	assert.True(t, other.Contains(mustKey(t, other, "convert", "A")))

	// Surviving entries are hits.
	before := computed
	executeString(t, bounded, "convert", "E", &computed)
	assert.Equal(t, before, computed)
}

func TestBoundedStoreUnindexedFileIsMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bounded := newTestStore(t, dir, WithMaxEntries(2))

	// Written behind the bounded store's back.
	var computed int
	executeString(t, newTestStore(t, dir), "convert", "A", &computed)
	require.Equal(t, 1, computed)
	assert.False(t, bounded.Contains(mustKey(t, bounded, "convert", "A")))

	executeString(t, bounded, "convert", "A", &computed)
	assert.Equal(t, 2, computed)
	assert.True(t, bounded.Contains(mustKey(t, bounded, "convert", "A")))

	executeString(t, bounded, "convert", "A", &computed)
	assert.Equal(t, 2, computed)
	assert.Equal(t, int64(1), bounded.Stats().Hits)
}

func TestNewRejectsNegativeMaxEntries(t *testing.T) {
	t.Parallel()

	_, err := New(t.TempDir(), "Converter", WithMaxEntries(-1))
	assert.Error(t, err)
}
