package methodcache

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/richardartoul/methodcache/fingerprint"
)

// MaxNameLen is the longest file name the cache will create. Keys whose
// file names would exceed it are rejected rather than truncated.
const MaxNameLen = 255

// digestLen is the length of the hex digest portion of a key.
const digestLen = 32

var (
	// ErrKeyTooLong is returned when a cache file name would exceed MaxNameLen.
	ErrKeyTooLong = errors.New("cache key too long")

	// ErrInvalidIdentity is returned for store names, method names or cache
	// groups that cannot be embedded in a cache file name.
	ErrInvalidIdentity = errors.New("invalid cache identity")
)

// Pair is a key component that is replaced by its fingerprint before the
// key is computed.
type Pair struct {
	Value any
	By    fingerprint.Fingerprinter
}

// Fingerprinted returns a key component that contributes by.Fingerprint(v)
// instead of v itself.
func Fingerprinted(v any, by fingerprint.Fingerprinter) Pair {
	return Pair{Value: v, By: by}
}

// keyMaterial is the canonical structure digested into a key.
type keyMaterial struct {
	Identity   string `json:"identity"`
	Group      string `json:"group,omitempty"`
	Components []any  `json:"components"`
}

// ComputeKey derives the cache key for a call of method on the store named
// name. Components are used as-is unless they are Pairs, which are replaced
// by their fingerprint. The key has the form name.method[.group].digest.
func ComputeKey(name, method, group string, components []any) (string, error) {
	if err := validateIdentity(name, method, group); err != nil {
		return "", err
	}

	resolved := make([]any, len(components))
	for i, c := range components {
		switch p := c.(type) {
		case Pair:
			if p.By == nil {
				return "", fmt.Errorf("cache key component %d has no fingerprinter", i)
			}
			fp, err := p.By.Fingerprint(p.Value)
			if err != nil {
				return "", fmt.Errorf("failed to fingerprint cache key component %d: %w", i, err)
			}
			resolved[i] = fp
		case *Pair:
			return "", fmt.Errorf("cache key component %d: pass Pair by value", i)
		default:
			resolved[i] = c
		}
	}

	material, err := fingerprint.Canonical(keyMaterial{
		Identity:   name + "." + method,
		Group:      group,
		Components: resolved,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize cache key components: %w", err)
	}

	parts := []string{name, method}
	if group != "" {
		parts = append(parts, group)
	}
	parts = append(parts, fingerprint.Sum(material))
	return strings.Join(parts, "."), nil
}

// NameOf returns the type name of v, dereferencing pointers. It is a
// convenient store name for types that own a cache.
func NameOf(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func validateIdentity(name, method, group string) error {
	if err := validateSegment("store name", name, false); err != nil {
		return err
	}
	if err := validateSegment("method name", method, false); err != nil {
		return err
	}
	return validateSegment("cache group", group, true)
}

func validateSegment(what, s string, optional bool) error {
	if s == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: %s is empty", ErrInvalidIdentity, what)
	}
	if strings.ContainsAny(s, "./\\") {
		return fmt.Errorf("%w: %s %q must not contain '.', '/' or '\\'", ErrInvalidIdentity, what, s)
	}
	return nil
}

// fileName returns the file name of artifact index of an entry holding
// count artifacts.
func fileName(key string, index, count int, suffix string) string {
	if count <= 1 {
		return key + "." + suffix
	}
	return key + "_" + strconv.Itoa(index) + "." + suffix
}

func checkNameLen(key string, count int, suffix string) error {
	longest := fileName(key, count-1, count, suffix)
	if len(longest) > MaxNameLen {
		return fmt.Errorf("%w: %q is %d bytes, limit is %d", ErrKeyTooLong, longest, len(longest), MaxNameLen)
	}
	return nil
}

// namespacePattern matches the file names written by the store called name
// and captures their key. Identity segments cannot contain dots, so the
// digest is always the segment after the method or group, even when a
// group looks like a digest.
func namespacePattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`^(` + regexp.QuoteMeta(name) + `\.[^./\\]+(?:\.[^./\\]+)?\.[0-9a-f]{` +
		strconv.Itoa(digestLen) + `})(?:_\d+)?\.[^/]+$`)
}

// parseKey returns the key of a cache file name matched by re.
func parseKey(re *regexp.Regexp, name string) (string, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
