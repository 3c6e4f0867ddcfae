// Package fingerprint converts values into stable content digests used as
// cache key components.
//
// A fingerprint only depends on the logical content of a value: it is the
// same across process runs and machines and never depends on pointer values,
// map iteration order or hash seeds.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a fingerprinter is given a value it does
// not know how to digest.
var ErrUnsupported = errors.New("unsupported value")

// Fingerprinter converts a value into a stable digest string.
type Fingerprinter interface {
	Fingerprint(v any) (string, error)
}

// Func adapts an ordinary function to the Fingerprinter interface.
type Func func(v any) (string, error)

// Fingerprint calls f(v).
func (f Func) Fingerprint(v any) (string, error) {
	return f(v)
}

// Sum returns the 128-bit digest of b as lowercase hex.
func Sum(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// SumString returns the 128-bit digest of s as lowercase hex.
func SumString(s string) string {
	return Sum([]byte(s))
}

// Canonical returns a deterministic JSON encoding of v. Map keys are sorted
// at every nesting level and slice order is preserved.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupported, v, err)
	}

	// Decoding into an untyped tree turns structs into maps so that field
	// declaration order does not leak into the digest.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode canonical form of %T: %w", v, err)
	}

	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode canonical form of %T: %w", v, err)
	}
	return out, nil
}
