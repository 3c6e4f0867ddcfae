package methodcache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLocalCache(t *testing.T) *localCache {
	t.Helper()
	lc, err := newLocalCache(t.TempDir(), defaultDirPerm, discardLogger())
	if err != nil {
		t.Fatalf("newLocalCache() error = %v", err)
	}
	return lc
}

func writeString(t *testing.T, lc *localCache, name, content string) string {
	t.Helper()
	p, err := lc.write(name, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
	if err != nil {
		t.Fatalf("write(%s) error = %v", name, err)
	}
	return p
}

func TestLocalCacheWriteIsAtomic(t *testing.T) {
	lc := newTestLocalCache(t)

	_, err := lc.write("a.gob", func(w io.Writer) error {
		io.WriteString(w, "half")
		return errors.New("interrupted")
	})
	if err == nil {
		t.Fatal("write() error = nil, want error")
	}
	entries, _ := os.ReadDir(lc.cacheDir)
	if len(entries) != 0 {
		t.Fatalf("directory has %d entries after failed write, want 0", len(entries))
	}

	p := writeString(t, lc, "a.gob", "full")
	var got string
	err = lc.read(p, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		got = string(b)
		return err
	})
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if got != "full" {
		t.Errorf("read() = %q, want %q", got, "full")
	}
}

func TestLocalCacheEntryPaths(t *testing.T) {
	lc := newTestLocalCache(t)
	key := "Converter.split." + strings.Repeat("1", 32)

	paths, err := lc.entryPaths(key, "gob")
	if err != nil || paths != nil {
		t.Fatalf("entryPaths() = %v, %v, want nil, nil", paths, err)
	}

	for i := 0; i < 3; i++ {
		writeString(t, lc, fileName(key, i, 3, "gob"), "x")
	}
	// A gap ends the entry.
	writeString(t, lc, fileName(key, 4, 5, "gob"), "x")

	paths, err = lc.entryPaths(key, "gob")
	if err != nil {
		t.Fatalf("entryPaths() error = %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("entryPaths() returned %d paths, want 3", len(paths))
	}
	for i, p := range paths {
		if want := fileName(key, i, 3, "gob"); filepath.Base(p) != want {
			t.Errorf("paths[%d] = %s, want %s", i, filepath.Base(p), want)
		}
	}

	if paths, _ := lc.entryPaths(key, "json"); len(paths) != 0 {
		t.Errorf("entryPaths() with another suffix = %v, want none", paths)
	}
}

func TestLocalCacheRemoveEntry(t *testing.T) {
	lc := newTestLocalCache(t)
	key := "Converter.split." + strings.Repeat("2", 32)
	other := "Converter.split." + strings.Repeat("3", 32)

	writeString(t, lc, key+".gob", "x")
	writeString(t, lc, key+"_0.json", "x")
	writeString(t, lc, key+"_1.json", "x")
	writeString(t, lc, other+".gob", "x")

	// A grouped key whose group equals the digest of key.
	nested := key + "." + strings.Repeat("4", 32)
	writeString(t, lc, nested+".gob", "x")
	writeString(t, lc, nested+"_0.json", "x")

	re := namespacePattern("Converter")
	if ok, err := lc.hasEntry(re, key); err != nil || !ok {
		t.Fatalf("hasEntry() = %v, %v, want true, nil", ok, err)
	}

	removed, err := lc.removeEntry(re, key)
	if err != nil {
		t.Fatalf("removeEntry() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removeEntry() = %d, want 3", removed)
	}
	for _, name := range []string{other + ".gob", nested + ".gob", nested + "_0.json"} {
		if ok, _ := exists(filepath.Join(lc.cacheDir, name)); !ok {
			t.Errorf("removeEntry() removed %s of another key", name)
		}
	}
	if ok, _ := lc.hasEntry(re, key); ok {
		t.Error("hasEntry() = true after removeEntry()")
	}
}

func TestLocalCacheScanOrder(t *testing.T) {
	lc := newTestLocalCache(t)
	re := namespacePattern("Converter")

	older := "Converter.fit." + strings.Repeat("b", 32)
	newer := "Converter.fit." + strings.Repeat("a", 32)
	tieA := "Converter.fit." + strings.Repeat("c", 32)
	tieB := "Converter.fit." + strings.Repeat("d", 32)

	base := time.Now().Add(-time.Hour)
	touch := func(name string, at time.Time) {
		p := writeString(t, lc, name, "x")
		if err := os.Chtimes(p, at, at); err != nil {
			t.Fatal(err)
		}
	}
	touch(older+"_0.gob", base)
	touch(older+"_1.gob", base.Add(time.Minute))
	touch(newer+".gob", base.Add(3*time.Minute))
	touch(tieB+".gob", base.Add(2*time.Minute))
	touch(tieA+".gob", base.Add(2*time.Minute))
	touch("Selector.fit."+strings.Repeat("e", 32)+".gob", base)
	touch("notes.txt", base)

	keys, err := lc.scan(re)
	if err != nil {
		t.Fatalf("scan() error = %v", err)
	}
	want := []string{older, tieA, tieB, newer}
	if len(keys) != len(want) {
		t.Fatalf("scan() found %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if k.key != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, k.key, want[i])
		}
	}

	removed, err := lc.clear(re)
	if err != nil {
		t.Fatalf("clear() error = %v", err)
	}
	if removed != 5 {
		t.Errorf("clear() = %d, want 5", removed)
	}
}
